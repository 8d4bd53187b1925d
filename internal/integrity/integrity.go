// Package integrity validates output tables after aggregation and
// before they are published. A violation aborts the run: downstream
// stages never see a table that failed its contract.
package integrity

import (
	"fmt"

	"github.com/basketml/featurepipe/internal/config"
	pipeerr "github.com/basketml/featurepipe/internal/errors"
	"github.com/basketml/featurepipe/internal/frame"
)

// Check names one output table and the key that must identify its rows.
type Check struct {
	Stage string
	Table string
	Keys  []string
	Frame *frame.DataFrame
}

// Checker enforces output-table contracts.
type Checker struct {
	cfg config.Config
}

// NewChecker creates an integrity checker.
func NewChecker(cfg config.Config) *Checker {
	return &Checker{cfg: cfg}
}

// Verify runs every check and returns the first violation. Each table
// must be non-empty, within the configured row bound, and uniquely
// keyed with no null key values.
func (c *Checker) Verify(checks ...Check) error {
	for _, check := range checks {
		if err := c.verifyOne(check); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) verifyOne(check Check) error {
	if check.Frame == nil {
		return pipeerr.NewIntegrityError(check.Stage, check.Table, fmt.Errorf("table was never materialized"))
	}
	if check.Frame.Len() == 0 {
		return pipeerr.NewIntegrityError(check.Stage, check.Table, fmt.Errorf("table is empty"))
	}
	if c.cfg.MaxRows > 0 && check.Frame.Len() > c.cfg.MaxRows {
		return pipeerr.NewIntegrityError(check.Stage, check.Table,
			fmt.Errorf("table has %d rows, exceeding the %d row bound", check.Frame.Len(), c.cfg.MaxRows))
	}
	if err := frame.KeyIsUnique(check.Frame, check.Keys...); err != nil {
		return pipeerr.NewIntegrityError(check.Stage, check.Table, err)
	}
	return nil
}
