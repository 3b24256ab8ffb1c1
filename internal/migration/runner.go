package migration

import (
	"context"

	"github.com/hydrogen-services/hydrogen/internal/config"
	"github.com/hydrogen-services/hydrogen/internal/engine"
)

// RunStartup executes one database's configured migration policy against a
// Lead-owned handle: LOAD+APPLY the forward batch when AutoMigration is
// set, then LOAD+APPLY the reverse batch immediately afterward when
// TestMigration is also set (spec.md §4.5 configuration knobs). A database
// with AutoMigration off or no migrations source configured is a no-op.
func RunStartup(ctx context.Context, adapter engine.Adapter, h engine.Handle, dc config.DatabaseConfig) error {
	if !dc.AutoMigration || dc.Migrations == "" {
		return nil
	}

	e := NewEngine(adapter, dc.Schema)

	startID, err := e.NextID(ctx, h)
	if err != nil {
		return err
	}
	forward, err := e.Load(dc.Migrations, startID)
	if err != nil {
		return err
	}
	if err := e.Apply(ctx, h, forward); err != nil {
		return err
	}

	if !dc.TestMigration {
		return nil
	}

	reverse, err := e.LoadReverse(dc.Migrations, forward)
	if err != nil {
		return err
	}
	return e.Apply(ctx, h, reverse)
}
