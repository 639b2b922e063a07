package main

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conceptmaps/trainsvc/internal/store"
)

func doHistory(cmd *cobra.Command, args []string) error {
	ctx := withAttrs(cmd.Context(), "history")
	if !config.History.Enabled {
		return fmt.Errorf("run history is disabled in %s", configPath)
	}
	var jobType string
	if len(args) == 1 {
		jobType = args[0]
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	db, err := store.InitDB(ctx, config.History.Path)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer func(db *sql.DB) {
		_ = db.Close()
	}(db)

	runs, err := store.List(ctx, db, jobType, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, run := range runs {
		if err := enc.Encode(run); err != nil {
			return err
		}
	}
	return nil
}
