package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/bryanchriswhite/pwnegotiator/internal/api"
	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse FILE...",
	Short: "Decode server Format objects",
	Long: `Decode one or more raw Format parameter objects, as a server would pass
them to the client, and select the first usable video/raw format. Objects of
other media types are skipped; a malformed video/raw object stops the round.`,
	Example: `  # Round-trip the desktop defaults
  pwnegotiator offer --profile desktop --fixate --out format.pod
  pwnegotiator parse --profile desktop format.pod`,
	Args: cobra.MinimumNArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
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

	params := make([][]byte, len(args))
	for i, path := range args {
		if params[i], err = os.ReadFile(path); err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")

	sf, err := n.Select(params...)
	if err == nil {
		err = sf.Validate()
	}
	if err != nil {
		resp := api.ErrorResponse{Error: err.Error(), Fatal: negotiate.IsFatal(err)}
		var ne *negotiate.NegotiationError
		if errors.As(err, &ne) {
			resp.Stage = &ne.Stage
		}
		if errors.Is(err, negotiate.ErrUnsupportedFormat) {
			resp.Format = &sf
		}
		if encErr := encoder.Encode(resp); encErr != nil {
			return encErr
		}
		return err
	}

	return encoder.Encode(sf)
}
