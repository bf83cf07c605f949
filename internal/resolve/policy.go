package resolve

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/obligations-cli/internal/config"
)

// Policy is the tolerance table for conflict detection. It is loaded once at
// startup and treated as read-only: every comparison in a run uses the same
// thresholds, so re-running a case always reproduces the same conflicts.
type Policy struct {
	// AmountRelTolerance is the relative difference above which two amounts
	// are conflicting (0.01 = 1%).
	AmountRelTolerance float64 `yaml:"amount_rel_tolerance"`
	// DayCountTolerance is the allowed difference between "within N days"
	// counts before they conflict.
	DayCountTolerance int `yaml:"day_count_tolerance"`
	// DueDateToleranceDays is the window within which two due dates are
	// considered the same date.
	DueDateToleranceDays int `yaml:"due_date_tolerance_days"`
	// MinTokenOverlap is the Jaccard similarity of condition tokens required
	// for two candidates of the same type to be treated as the same
	// underlying obligation.
	MinTokenOverlap float64 `yaml:"min_token_overlap"`
}

// DefaultPolicy returns the standard tolerance table.
func DefaultPolicy() Policy {
	return Policy{
		AmountRelTolerance:   0.01,
		DayCountTolerance:    0,
		DueDateToleranceDays: 3,
		MinTokenOverlap:      0.35,
	}
}

// LoadPolicy builds a Policy from config, optionally overridden by a YAML
// policy file.
func LoadPolicy(cfg config.ResolveConfig) (Policy, error) {
	p := DefaultPolicy()
	if cfg.AmountRelTolerance > 0 {
		p.AmountRelTolerance = cfg.AmountRelTolerance
	}
	if cfg.DayCountTolerance > 0 {
		p.DayCountTolerance = cfg.DayCountTolerance
	}
	if cfg.DueDateToleranceDays > 0 {
		p.DueDateToleranceDays = cfg.DueDateToleranceDays
	}

	if cfg.PolicyFile != "" {
		raw, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return p, eris.Wrapf(err, "resolve: read policy file %s", cfg.PolicyFile)
		}
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return p, eris.Wrapf(err, "resolve: parse policy file %s", cfg.PolicyFile)
		}
	}
	return p, nil
}
