package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conceptmaps/trainsvc/internal/corpus"
	"github.com/conceptmaps/trainsvc/internal/model"
)

func doConvert(cmd *cobra.Command, args []string) error {
	ctx := withAttrs(cmd.Context(), "convert")
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	relations := config.Jobs[model.JobTypeRelations]
	conv, err := corpus.NewConverter(relations.TestPortion, relations.DevPortion)
	if err != nil {
		return err
	}
	stats, err := conv.ConvertStats(ctx, data, args[1])
	if err != nil {
		return fmt.Errorf("converting %s: %w", args[0], err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
