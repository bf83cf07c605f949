package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/internal/store"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import case seeds from CSV",
	Long:  "Reads a CSV with case_key, partner_name, partner_tax_id, contract_code columns and upserts one case per row.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrapf(err, "open csv %s", importCSVPath)
		}
		defer f.Close()

		created, err := importCases(ctx, st, f)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int("cases", created),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

// importCases upserts one case per CSV row. The header row names the
// columns; case_key and partner_name are required.
func importCases(ctx context.Context, st store.Store, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return 0, eris.Wrap(err, "read csv header")
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["case_key"]; !ok {
		return 0, eris.New("csv is missing a case_key column")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	count := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, eris.Wrap(err, "read csv row")
		}
		key := field(row, "case_key")
		if key == "" {
			continue
		}
		if _, err := st.UpsertCase(ctx, model.ContractCase{
			CaseKey:      key,
			PartnerName:  field(row, "partner_name"),
			PartnerTaxID: field(row, "partner_tax_id"),
			ContractCode: field(row, "contract_code"),
			Status:       model.CaseStatusOpen,
		}); err != nil {
			return count, eris.Wrapf(err, "upsert case %s", key)
		}
		count++
	}
	return count, nil
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
