// Package notify tells downstream services that a new model is available.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/conceptmaps/trainsvc/internal/model"
)

const flushTimeout = 5 * time.Second

// ModelTrained is published after a successful training run.
type ModelTrained struct {
	RunID    string    `json:"run_id"`
	JobType  string    `json:"job_type"`
	Target   string    `json:"target"`
	Source   string    `json:"source,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

func NewModelTrained(run model.Run) ModelTrained {
	return ModelTrained{
		RunID:    run.ID.String(),
		JobType:  run.JobType,
		Target:   run.Target,
		Source:   run.Source,
		Started:  run.Started,
		Finished: run.Stopped,
	}
}

type Publisher struct {
	nc      *nats.Conn
	subject string
}

func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("trainsvc"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// ModelTrained publishes the event and waits until the server received it.
// It has the signature of a job type success hook.
func (p *Publisher) ModelTrained(ctx context.Context, run model.Run) error {
	b, err := json.Marshal(NewModelTrained(run))
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, b); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	if err := p.nc.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	slog.DebugContext(ctx, "model trained event published", "subject", p.subject)
	return nil
}

// LogModelTrained is the success hook used when notifications are disabled.
func LogModelTrained(ctx context.Context, run model.Run) error {
	slog.InfoContext(ctx, "model trained", "target", run.Target, "duration", run.Duration())
	return nil
}
