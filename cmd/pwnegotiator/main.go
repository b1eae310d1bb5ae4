package main

import "github.com/bryanchriswhite/pwnegotiator/cmd/pwnegotiator/commands"

func main() {
	commands.Execute()
}
