package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/obligations-cli/internal/audit"
	"github.com/sells-group/obligations-cli/internal/extract"
	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/internal/pipeline"
	"github.com/sells-group/obligations-cli/internal/resolve"
)

var (
	runCaseKey      string
	runPartner      string
	runTaxID        string
	runContractCode string
	runSources      []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a case: extract, reconcile, and tier its sources",
	Long:  "Reads already-extracted text files (OCR and transcription happen upstream), extracts obligation candidates, reconciles them across sources, and writes tiered proposals.",
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

		ext, err := extract.NewExtractor(cfg.Extract, cfg.Anthropic)
		if err != nil {
			return err
		}
		policy, err := resolve.LoadPolicy(cfg.Resolve)
		if err != nil {
			return err
		}

		input := pipeline.CaseInput{
			CaseKey:      runCaseKey,
			PartnerName:  runPartner,
			PartnerTaxID: runTaxID,
			ContractCode: runContractCode,
		}
		for _, arg := range runSources {
			src, err := loadSourceArg(arg)
			if err != nil {
				return err
			}
			input.Sources = append(input.Sources, src)
		}

		sink := audit.Multi{audit.NewStoreSink(st), audit.ZapSink{}}
		p := pipeline.New(cfg, st, ext, policy, sink)

		result, err := p.Process(ctx, input)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(result), "encode result")
	},
}

// loadSourceArg parses one --source argument of the form path:type and reads
// the file's text.
func loadSourceArg(arg string) (pipeline.SourceInput, error) {
	path, typ, err := parseSourceArg(arg)
	if err != nil {
		return pipeline.SourceInput{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return pipeline.SourceInput{}, eris.Wrapf(err, "read source %s", path)
	}
	return pipeline.SourceInput{
		SourceType: typ,
		FileName:   path,
		Text:       string(raw),
	}, nil
}

func parseSourceArg(arg string) (string, model.SourceType, error) {
	idx := strings.LastIndex(arg, ":")
	if idx <= 0 || idx == len(arg)-1 {
		return "", "", eris.Errorf("source %q must be path:type", arg)
	}
	path, typ := arg[:idx], model.SourceType(arg[idx+1:])
	switch typ {
	case model.SourceTypeContract, model.SourceTypeEmail, model.SourceTypeAudio:
		return path, typ, nil
	default:
		return "", "", eris.Errorf("source type %q must be contract, email, or audio", typ)
	}
}

func init() {
	runCmd.Flags().StringVar(&runCaseKey, "case-key", "", "caller-supplied case key (required)")
	runCmd.Flags().StringVar(&runPartner, "partner", "", "partner name")
	runCmd.Flags().StringVar(&runTaxID, "tax-id", "", "partner tax ID")
	runCmd.Flags().StringVar(&runContractCode, "contract-code", "", "contract code")
	runCmd.Flags().StringArrayVar(&runSources, "source", nil, "source text file as path:type (repeatable)")
	_ = runCmd.MarkFlagRequired("case-key")
	_ = runCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(runCmd)
}
