package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/calvinalkan/feedstate/internal/catalog"
	"github.com/calvinalkan/feedstate/internal/config"
	"github.com/calvinalkan/feedstate/internal/lock"
	"github.com/calvinalkan/feedstate/pkg/jsonstate/sqlite"
)

var errDatabaseNotFound = errors.New("database not found")

// withStore locks the configured database in mode, opens it and runs fn.
// Read-only commands pass mustExist so they never create an empty database.
func withStore(ctx context.Context, cfg *config.Config, mode lock.Mode, mustExist bool, fn func(*sqlite.Store) error) (err error) {
	if mustExist {
		_, statErr := os.Stat(cfg.DatabaseAbs)
		if statErr != nil {
			return fmt.Errorf("%w: %s", errDatabaseNotFound, cfg.DatabaseAbs)
		}
	}

	lk, err := lock.Acquire(ctx, lock.PathFor(cfg.DatabaseAbs), mode, time.Duration(cfg.LockTimeout))
	if err != nil {
		return fmt.Errorf("lock database: %w", err)
	}

	defer func() {
		closeErr := lk.Close()
		if closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	store, err := sqlite.Open(ctx, cfg.DatabaseAbs, catalog.Tables())
	if err != nil {
		return err
	}

	defer func() {
		closeErr := store.Close()
		if closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	return fn(store)
}
