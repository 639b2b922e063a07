package main

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/conceptmaps/trainsvc/internal/api"
	"github.com/conceptmaps/trainsvc/internal/corpus"
	"github.com/conceptmaps/trainsvc/internal/metrics"
	"github.com/conceptmaps/trainsvc/internal/model"
	"github.com/conceptmaps/trainsvc/internal/notify"
	"github.com/conceptmaps/trainsvc/internal/service"
	"github.com/conceptmaps/trainsvc/internal/store"
)

const shutdownTimeout = 30 * time.Second

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = withAttrs(ctx, "serve")

	killAfter, err := model.DurationOr(config.Service.KillAfter, 10*time.Second)
	if err != nil {
		return fmt.Errorf("service.kill_after: %w", err)
	}

	runs := metrics.NewRuns()
	reg, err := metrics.NewRegistry(runs)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	observers := service.Observers{runs}

	var db *sql.DB
	if config.History.Enabled {
		db, err = store.InitDB(ctx, config.History.Path)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		defer func() {
			_ = db.Close()
		}()
		n, err := store.Interrupt(ctx, db, time.Now())
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		if n > 0 {
			slog.WarnContext(ctx, "runs interrupted by the previous shutdown marked as failed", "runs", n)
		}
		observers = append(observers, store.NewRecorder(db))
	}

	onSuccess := notify.LogModelTrained
	if config.Notify.Enabled {
		pub, err := notify.Connect(config.Notify.URL, config.Notify.Subject)
		if err != nil {
			return err
		}
		defer pub.Close()
		onSuccess = pub.ModelTrained
	}

	relations := config.Jobs[model.JobTypeRelations]
	conv, err := corpus.NewConverter(relations.TestPortion, relations.DevPortion)
	if err != nil {
		return err
	}
	types := map[string]service.JobType{
		model.JobTypeRelations: {Convert: conv.Convert, OnSuccess: onSuccess},
		model.JobTypeNRT:       {Convert: service.NotImplemented, OnSuccess: onSuccess},
	}
	supervisor, err := service.SupervisorFromConfig(ctx, config, types, service.NewRunner(killAfter), observers)
	if err != nil {
		return err
	}

	listen := cmp.Or(viper.GetString("listen"), config.Service.Listen)
	srv := &http.Server{
		Addr: listen,
		Handler: api.New(api.Config{
			Supervisor: supervisor,
			Validator:  conv.Validator(),
			History:    db,
			Metrics:    reg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", listen, "job_types", supervisor.JobTypes())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return errors.Join(
			srv.Shutdown(shutdownCtx),
			supervisor.Close(shutdownCtx),
		)
	})
	return g.Wait()
}
