package service_test

import (
	"testing"
	"time"

	"github.com/conceptmaps/trainsvc/internal/model"
	"github.com/conceptmaps/trainsvc/internal/service"

	"github.com/stretchr/testify/require"
)

func TestNewCommand(t *testing.T) {
	t.Setenv("TRAINSVC_TEST_HOME", "/home/trainer")
	cfg := model.Command{
		Path: "spacy",
		Args: []string{"project", "run", "all", "--vars.target=${target}", "--vars.source=${source}"},
		Env: map[string]string{
			"cuda_visible_devices": "0",
			"spacy_home":           "${TRAINSVC_TEST_HOME}/.spacy",
			"job":                  "${job_type}-${run_id}",
		},
		Timeout: "PT2H",
	}
	vars := service.Vars{JobType: "relations", Target: "modelA", Source: "base", RunID: "42"}

	cmd, err := service.NewCommand(cfg, "/models/relations", vars)
	require.NoError(t, err)
	require.Equal(t, "spacy", cmd.Path)
	require.Equal(t, "/models/relations", cmd.Dir)
	require.Equal(t, 2*time.Hour, cmd.Timeout)
	require.Equal(t, []string{"project", "run", "all", "--vars.target=modelA", "--vars.source=base"}, cmd.Args)
	require.Contains(t, cmd.Env, "CUDA_VISIBLE_DEVICES=0")
	require.Contains(t, cmd.Env, "SPACY_HOME=/home/trainer/.spacy")
	require.Contains(t, cmd.Env, "JOB=relations-42")
	require.Contains(t, cmd.Env, "TRAINSVC_TARGET_MODEL=modelA")
	require.Contains(t, cmd.Env, "TRAINSVC_SOURCE_MODEL=base")
	require.Contains(t, cmd.Env, "TRAINSVC_RUN_ID=42")
	require.Contains(t, cmd.Env, "TRAINSVC_TEST_HOME=/home/trainer")

	t.Run("literal dollar", func(t *testing.T) {
		t.Setenv("i", "lost")
		cfg := model.Command{
			Path: "sh",
			Args: []string{"--pattern", "^a$", "price=$5", "for i in 1 2; do echo $i; done", "$target", "${target}"},
			Env:  map[string]string{"price": "a$5", "trainer_home": "${TRAINSVC_TEST_HOME}"},
		}
		cmd, err := service.NewCommand(cfg, "", vars)
		require.NoError(t, err)
		require.Equal(t, []string{"--pattern", "^a$", "price=$5", "for i in 1 2; do echo $i; done", "$target", "modelA"}, cmd.Args)
		require.Contains(t, cmd.Env, "PRICE=a$5")
		require.Contains(t, cmd.Env, "TRAINER_HOME=/home/trainer")
	})

	t.Run("bad timeout", func(t *testing.T) {
		cfg := model.Command{Path: "spacy", Timeout: "2h"}
		_, err := service.NewCommand(cfg, "", vars)
		require.ErrorIs(t, err, model.ErrISOFormat)
	})
}
