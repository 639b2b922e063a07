package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/conceptmaps/trainsvc/internal/model"
	"github.com/conceptmaps/trainsvc/internal/service"

	"github.com/stretchr/testify/require"
)

func TestSupervisor(t *testing.T) {
	t.Parallel()
	launcher := newFakeLauncher()
	cfg := model.Config{
		Workspace: t.TempDir(),
		Service:   model.Service{Grace: "PT0.1S", StatusWait: "PT0.05S"},
		Jobs: map[string]model.Job{
			"relations": {Dir: "relations", Command: model.Command{Path: "trainer"}},
			"nrt":       {Dir: "nrt", Command: model.Command{Path: "trainer"}},
		},
	}
	types := map[string]service.JobType{
		"relations": {Convert: writeData},
	}

	supervisor, err := service.SupervisorFromConfig(t.Context(), cfg, types, launcher, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, supervisor.Close(ctx))
	})
	require.Equal(t, []string{"nrt", "relations"}, supervisor.JobTypes())

	t.Run("unknown", func(t *testing.T) {
		err := supervisor.Start(t.Context(), "ner", nil, "", "")
		require.ErrorIs(t, err, service.ErrUnknownJobType)
		err = supervisor.Cancel(t.Context(), "ner")
		require.ErrorIs(t, err, service.ErrUnknownJobType)
		_, err = supervisor.Status(t.Context(), "ner")
		require.ErrorIs(t, err, service.ErrUnknownJobType)
	})

	t.Run("no converter", func(t *testing.T) {
		err := supervisor.Start(t.Context(), "nrt", []byte(`[]`), "", "")
		require.ErrorIs(t, err, service.ErrNotImplemented)
	})

	t.Run("jobs are independent", func(t *testing.T) {
		require.NoError(t, supervisor.Start(t.Context(), "relations", []byte(`[]`), "modelA", ""))
		status, err := supervisor.Status(t.Context(), "relations")
		require.NoError(t, err)
		require.True(t, status.IsActive)

		status, err = supervisor.Status(t.Context(), "nrt")
		require.NoError(t, err)
		require.False(t, status.IsActive)
		require.Equal(t, model.StateFailure, status.State)

		require.NoError(t, supervisor.Cancel(t.Context(), "relations"))
		require.ErrorIs(t, supervisor.Cancel(t.Context(), "relations"), service.ErrNotActive)
	})
}

func TestNewSupervisor_Duplicate(t *testing.T) {
	t.Parallel()
	a := service.NewJob(relationsType(), service.JobConfig{})
	b := service.NewJob(relationsType(), service.JobConfig{})
	_, err := service.NewSupervisor(a, b)
	require.Error(t, err)
}

func TestSupervisorFromConfig_BadDuration(t *testing.T) {
	t.Parallel()
	cfg := model.Config{Service: model.Service{Grace: "2s"}}
	_, err := service.SupervisorFromConfig(t.Context(), cfg, nil, nil, nil)
	require.ErrorIs(t, err, model.ErrISOFormat)
}
