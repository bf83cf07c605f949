package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/internal/store"
)

var (
	casesStatus string
	casesLimit  int
)

var casesCmd = &cobra.Command{
	Use:   "cases [case-id]",
	Short: "List cases, or show one with its obligations and proposals",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if len(args) == 1 {
			c, err := st.GetCase(ctx, args[0])
			if err != nil {
				return err
			}
			obligations, err := st.ListObligations(ctx, c.CaseID)
			if err != nil {
				return err
			}
			proposals, err := st.ListProposals(ctx, c.CaseID)
			if err != nil {
				return err
			}
			return enc.Encode(map[string]any{
				"case":        c,
				"obligations": obligations,
				"proposals":   proposals,
			})
		}

		cases, err := st.ListCases(ctx, store.CaseFilter{
			Status: model.CaseStatus(casesStatus),
			Limit:  casesLimit,
		})
		if err != nil {
			return err
		}
		return enc.Encode(cases)
	},
}

func init() {
	casesCmd.Flags().StringVar(&casesStatus, "status", "", "filter by status (open|closed)")
	casesCmd.Flags().IntVar(&casesLimit, "limit", 50, "maximum cases to list")
	rootCmd.AddCommand(casesCmd)
}
