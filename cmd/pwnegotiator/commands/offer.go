package commands

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
	"github.com/spf13/cobra"
)

var (
	offerFixate bool
	offerOut    string
)

var offerCmd = &cobra.Command{
	Use:   "offer",
	Short: "Build the EnumFormat offer for a profile",
	Long: `Build the EnumFormat parameter object a client sends when connecting a
video stream. With --fixate, build the Format object a server would answer
when it accepts every default instead.`,
	Example: `  # Hex dump of the desktop offer
  pwnegotiator offer --profile desktop

  # Write the server's answer for the screencast defaults to a file
  pwnegotiator offer --profile screencast --fixate --out format.pod`,
	Args: cobra.NoArgs,
	RunE: runOffer,
}

func init() {
	rootCmd.AddCommand(offerCmd)
	offerCmd.Flags().BoolVar(&offerFixate, "fixate", false, "emit the fixated Format instead of the EnumFormat offer")
	offerCmd.Flags().StringVarP(&offerOut, "out", "o", "", "write the raw object to a file instead of a hex dump")
}

func runOffer(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	profile, err := configMgr.Profile(profileName())
	if err != nil {
		return err
	}
	n, err := negotiate.New(profile)
	if err != nil {
		return err
	}

	var pod spa.Pod
	if offerFixate {
		pod, err = negotiate.Fixate(spa.NewBuilder(nil), profile.Range)
	} else {
		pod, err = n.Offer(nil)
	}
	if err != nil {
		return err
	}

	logger.WithComponent("offer").Debug().
		Str("profile", profile.Name).
		Bool("fixate", offerFixate).
		Int("bytes", len(pod)).
		Msg("Built parameter object")

	if offerOut == "" {
		fmt.Fprint(cmd.OutOrStdout(), hex.Dump(pod))
		return nil
	}
	if err := os.WriteFile(offerOut, pod, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", offerOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(pod), offerOut)
	return nil
}
