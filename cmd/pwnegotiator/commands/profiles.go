package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/pwnegotiator/internal/api"
	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var profilesFormat string

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List negotiation profiles",
	Long: `List the built-in and configured negotiation profiles with the pixel
formats, size and framerate ranges they offer and the format table used to
read the server's answer.`,
	Example: `  # List profiles
  pwnegotiator profiles

  # Machine-readable listing
  pwnegotiator profiles --format json`,
	RunE: runProfiles,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.Flags().StringVarP(&profilesFormat, "format", "f", "text", "output format (text, yaml or json)")
}

func runProfiles(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	profiles, err := configMgr.Profiles()
	if err != nil {
		return err
	}
	active := configMgr.Get().ActiveProfile

	views := make([]api.ProfileView, 0, len(profiles))
	for _, name := range negotiate.ProfileNames(profiles) {
		p := profiles[name]
		views = append(views, api.ProfileView{
			Name:  p.Name,
			Range: p.Range,
			Table: p.Table.Entries(),
			Caps:  negotiate.CapsString(p.Range),
		})
	}

	out := cmd.OutOrStdout()
	switch profilesFormat {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(views)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		return encoder.Encode(views)
	case "text":
	default:
		return fmt.Errorf("unsupported format: %s (use 'text', 'yaml' or 'json')", profilesFormat)
	}

	for _, v := range views {
		marker := " "
		if v.Name == active {
			marker = "*"
		}
		formats := make([]string, len(v.Range.Formats))
		for i, f := range v.Range.Formats {
			formats[i] = f.String()
		}
		table := make([]string, len(v.Table))
		for i, e := range v.Table {
			table[i] = fmt.Sprintf("%s→%s", e.Server, e.Pixel)
		}

		fmt.Fprintf(out, "%s %s\n", marker, v.Name)
		fmt.Fprintf(out, "    formats:   %s\n", strings.Join(formats, ", "))
		fmt.Fprintf(out, "    size:      %s in [%s, %s]\n", v.Range.Size.Default, v.Range.Size.Min, v.Range.Size.Max)
		fmt.Fprintf(out, "    framerate: %s in [%s, %s]\n", v.Range.Framerate.Default, v.Range.Framerate.Min, v.Range.Framerate.Max)
		fmt.Fprintf(out, "    table:     %s\n", strings.Join(table, " "))
	}
	return nil
}
