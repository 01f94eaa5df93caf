// Package migrations holds schema-version bump steps for the idx_*
// table family. Each step is keyed by the version it upgrades *from*;
// UpgradeReindex walks the chain starting at the store's current
// "indexv" value until no further step applies, applying one step at a
// time and bumping the recorded version after each.
package migrations

import (
	"context"
	"fmt"

	"github.com/dirserve/idlstore/internal/kv"
)

// Step upgrades a store from its declared From version to From+1.
type Step struct {
	From int64
	Name string
	Run  func(ctx context.Context, ex kv.Executor) error
}

// registry lists every known step in ascending From order. A new
// on-disk format change adds one Step here; it never rewrites an
// existing one; existing steps are the historical record of what
// shipped.
var registry = []Step{
	{
		From: 0,
		Name: "drop legacy idx_* tables before first rebuild",
		Run: func(ctx context.Context, ex kv.Executor) error {
			names, err := kv.ListIdxs(ctx, ex)
			if err != nil {
				return fmt.Errorf("migrations: list idxs: %w", err)
			}
			for _, name := range names {
				if _, err := ex.ExecContext(ctx, "DROP TABLE "+name); err != nil {
					return fmt.Errorf("migrations: drop %s: %w", name, err)
				}
			}
			return nil
		},
	},
}

// Pending returns the steps applicable starting at currentVersion, in
// the order they must run.
func Pending(currentVersion int64) []Step {
	var out []Step
	for _, s := range registry {
		if s.From >= currentVersion {
			out = append(out, s)
		}
	}
	return out
}
