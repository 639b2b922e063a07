package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/conceptmaps/trainsvc/internal/metrics"
	"github.com/conceptmaps/trainsvc/internal/model"
)

func TestRuns(t *testing.T) {
	t.Parallel()
	runs := metrics.NewRuns()
	reg, err := metrics.NewRegistry(runs)
	require.NoError(t, err)

	started := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	run := model.Run{ID: uuid.New(), JobType: "relations", State: model.StatePreparing, Started: started}
	runs.RunStarted(t.Context(), run)

	expected := `
# HELP trainsvc_runs_active Number of training runs in progress.
# TYPE trainsvc_runs_active gauge
trainsvc_runs_active{job_type="relations"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "trainsvc_runs_active"))

	run.State = model.StateSuccess
	run.Stopped = started.Add(90 * time.Second)
	runs.RunFinished(t.Context(), run)

	expected = `
# HELP trainsvc_runs_active Number of training runs in progress.
# TYPE trainsvc_runs_active gauge
trainsvc_runs_active{job_type="relations"} 0
# HELP trainsvc_runs_finished_total Number of finished training runs by final state.
# TYPE trainsvc_runs_finished_total counter
trainsvc_runs_finished_total{job_type="relations",state="success"} 1
# HELP trainsvc_runs_started_total Number of training runs started, including runs which failed to prepare their data.
# TYPE trainsvc_runs_started_total counter
trainsvc_runs_started_total{job_type="relations"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"trainsvc_runs_active", "trainsvc_runs_finished_total", "trainsvc_runs_started_total"))

	count, err := testutil.GatherAndCount(reg, "trainsvc_run_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
