package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/missingmoney/kit"
	"github.com/hazyhaar/missingmoney/missingmoney"
)

var searchReq missingmoney.Request

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchReq.FirstName, "first", "", "first name (nicknames are expanded)")
	f.StringVar(&searchReq.LastName, "last", "", "last name")
	f.StringVar(&searchReq.City, "city", "", "city")
	f.StringVar(&searchReq.State, "state", "", "state name or two-letter code")
	f.BoolVar(&searchReq.UseSolver, "solver", false, "solve verification challenges through the solver API")
	f.StringVar(&searchReq.SolverAPIKey, "solver-key", "", "solver API key (default: SOLVER_API_KEY)")
	for _, name := range []string{"first", "last", "city", "state"} {
		searchCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search --first <name> --last <name> --city <city> --state <state>",
	Short: "Runs one search and prints the outcome as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := missingmoney.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		svc, err := missingmoney.Open(cfg, nil, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx := kit.WithTransport(cmd.Context(), "cli")
		out := svc.Search(ctx, searchReq)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		if !out.Success {
			return fmt.Errorf("search failed: %s", out.Kind)
		}
		return nil
	},
}
