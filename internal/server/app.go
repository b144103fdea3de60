// Package server initializes and runs the identity server.
// It opens the configured store, builds the verifier pool and the lifecycle
// engine, and runs the gRPC server next to the metrics endpoint and the
// background purge and backup loops until a signal arrives.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/backup"
	"github.com/dmitrijs2005/gophid/internal/server/config"
	"github.com/dmitrijs2005/gophid/internal/server/credentials"
	"github.com/dmitrijs2005/gophid/internal/server/lifecycle"
	"github.com/dmitrijs2005/gophid/internal/server/mailer"
	"github.com/dmitrijs2005/gophid/internal/server/metrics"
	"github.com/dmitrijs2005/gophid/internal/server/store"
	"github.com/dmitrijs2005/gophid/internal/server/verifier"
	"github.com/dmitrijs2005/gophid/internal/server/verifier/worker"

	gs "github.com/dmitrijs2005/gophid/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	store     *store.Guarded
	metrics   *metrics.Metrics
	verifier  *worker.Pool
	lifecycle *lifecycle.Service
	backup    *backup.Uploader
}

// NewApp wires every component from c. args are the server's command-line
// arguments; subprocess verifier workers are started with the same ones.
func NewApp(ctx context.Context, c *config.Config, args []string) (*App, error) {

	logger := logging.NewJSON(os.Stdout, c.LogLevel)
	m := metrics.New()

	st, err := store.Open(ctx, c, logger, m)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}

	engine, authority, err := verifier.FromConfig(c, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("verifier init error: %w", err)
	}

	pool := worker.NewPool(newRunner(c, engine, args), worker.Options{
		Size:      c.VerifierWorkers,
		Timeout:   c.VerifierTimeout,
		PerSecond: c.VerifierRate,
		Observer:  m,
		Logger:    logger,
	})

	lc := lifecycle.NewService(st, lifecycle.Deps{
		Hasher:    credentials.NewBcrypt(c.BcryptCost),
		Mailer:    mailer.NewLogMailer("https://"+c.Hostname, logger),
		Verifier:  pool,
		Authority: authority,
		Observer:  m,
		Logger:    logger,
	}, c)

	app := &App{
		config:    c,
		logger:    logger,
		store:     st,
		metrics:   m,
		verifier:  pool,
		lifecycle: lc,
	}
	if c.BackupInterval > 0 && st.CanSnapshot() {
		app.backup = backup.NewUploader(c, st, m, logger)
	}
	return app, nil
}

func newRunner(c *config.Config, engine *verifier.Engine, args []string) worker.Runner {
	if c.VerifierMode == config.VerifierSubprocess {
		return &worker.SubprocessRunner{Binary: c.VerifierBinary, Args: args}
	}
	return worker.NewInProcessRunner(engine)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.lifecycle, app.verifier, app.store, app.metrics)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context) {
	if app.config.MetricsAddr == "" {
		return
	}
	if err := app.metrics.Serve(ctx, app.config.MetricsAddr, app.logger); err != nil {
		app.logger.Error(ctx, "metrics server failed", "error", err)
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "store", app.config.StoreDriver, "verifier", app.config.VerifierMode)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.lifecycle.RunPurger(ctx, app.config.StagedPurgeInterval)
	}()

	if app.backup != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.backup.Run(ctx, app.config.BackupInterval)
		}()
	}

	wg.Wait()

	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "store close failed", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
