package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tonimelisma/labelbatch/internal/batch"
	"github.com/tonimelisma/labelbatch/internal/config"
	"github.com/tonimelisma/labelbatch/internal/labelstore"
)

const dbDirPermissions = 0o700

// catalogFromConfig converts the configured labels to engine states.
func catalogFromConfig(labels []config.LabelConfig) []batch.State {
	out := make([]batch.State, 0, len(labels))
	for _, l := range labels {
		out = append(out, batch.State{
			ID:                 l.ID,
			Name:               l.Name,
			Rank:               l.Rank,
			RequiresProtection: l.RequiresProtection,
		})
	}

	return out
}

// openStore opens the label database named by the resolved config,
// creating its directory on first use.
func openStore(ctx context.Context, cc *CLIContext) (*labelstore.Store, error) {
	dbPath := cc.Cfg.Store.DBPath

	if err := os.MkdirAll(filepath.Dir(dbPath), dbDirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	s, err := labelstore.Open(ctx, dbPath, labelstore.Options{
		Catalog:       catalogFromConfig(cc.Cfg.Labels),
		VerifyTargets: cc.Cfg.Store.VerifyTargets,
		Logger:        cc.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening label database: %w", err)
	}

	return s, nil
}

// collectTargets expands args into absolute paths of regular files.
// Directories are walked recursively; symlinks and other special files
// found while walking are skipped.
func collectTargets(args []string) ([]string, error) {
	var targets []string

	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", arg, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}

		if !info.IsDir() {
			if !info.Mode().IsRegular() {
				return nil, fmt.Errorf("%s is not a regular file", arg)
			}

			targets = append(targets, abs)

			continue
		}

		err = filepath.WalkDir(abs, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}

			if d.Type().IsRegular() {
				targets = append(targets, path)
			}

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", arg, err)
		}
	}

	return targets, nil
}
