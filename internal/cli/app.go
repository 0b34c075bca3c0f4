package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/mlevkov/tasksync/internal/attachments"
	"github.com/mlevkov/tasksync/internal/auth"
	"github.com/mlevkov/tasksync/internal/config"
	"github.com/mlevkov/tasksync/internal/device"
	"github.com/mlevkov/tasksync/internal/engine"
	"github.com/mlevkov/tasksync/internal/local"
	"github.com/mlevkov/tasksync/internal/logging"
	"github.com/mlevkov/tasksync/internal/master"
	"github.com/mlevkov/tasksync/internal/realtime"
	"github.com/mlevkov/tasksync/internal/remote/postgres"
	syncpkg "github.com/mlevkov/tasksync/internal/sync"
)

// App wires the local store, the remote client and the engine behind the
// interactive command loop.
type App struct {
	config      *config.Config
	store       *local.Store
	remote      *postgres.Client
	accounts    auth.Provider
	attachments *attachments.Service
	deviceID    string
	logger      logging.Logger

	engine *engine.Engine
	reader *bufio.Reader
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	deviceID, err := device.LoadOrCreate(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("device identity: %w", err)
	}

	store, err := local.Open(ctx, cfg.LocalDBPath)
	if err != nil {
		return nil, err
	}

	client, err := postgres.Open(ctx, cfg.RemoteDSN, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	accounts := auth.NewTokenProvider(&storeTokenSource{store: store}, []byte(cfg.SecretKey))

	return &App{
		config:   cfg,
		store:    store,
		remote:   client,
		accounts: accounts,
		attachments: attachments.NewService(attachments.Settings{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
		}),
		deviceID: deviceID,
		logger:   logger,
		reader:   bufio.NewReader(os.Stdin),
	}, nil
}

// buildEngine assembles a fresh engine; engines are single-use, so each
// login gets its own.
func (a *App) buildEngine() *engine.Engine {
	orchestrator := syncpkg.NewOrchestrator(a.store, a.remote, a.accounts, a.deviceID, a.logger)
	subscriber := realtime.NewSubscriber(a.remote, a.store, a.deviceID, a.logger)
	subscriber.SetReconnectPolicy(a.config.ReconnectDelay, a.config.MaxReconnectAttempts)
	coordinator := master.NewCoordinator(a.remote, a.deviceID, a.config.LeaseDuration, a.logger)

	e := engine.New(orchestrator, subscriber, coordinator, a.accounts, engine.Intervals{
		Sync:        a.config.SyncInterval,
		FullRefresh: a.config.FullRefreshInterval,
		LeaseRenew:  a.config.LeaseRenewInterval,
	}, a.logger)
	e.SetOnFatal(func(err *syncpkg.SyncError) {
		fmt.Printf("Local storage failure, automatic sync stopped: %v\n", err)
		fmt.Println("Free up disk space or repair the database, then run 'sync' to resume")
	})
	return e
}

func (a *App) startEngine(ctx context.Context) error {
	e := a.buildEngine()
	if err := e.Start(ctx); err != nil {
		return err
	}
	a.engine = e
	return nil
}

func (a *App) stopEngine(ctx context.Context) {
	if a.engine != nil {
		a.engine.Stop(ctx)
		a.engine = nil
	}
}

func (a *App) isLoggedIn() bool {
	_, err := a.accounts.AccountID(context.Background())
	return err == nil
}

func (a *App) accountID(ctx context.Context) (string, error) {
	return a.accounts.AccountID(ctx)
}

// Run starts the engine when a valid session exists, then hands control
// to the command loop. It blocks until the user exits.
func (a *App) Run(ctx context.Context) {
	defer a.Close(ctx)

	if a.isLoggedIn() {
		if err := a.startEngine(ctx); err != nil {
			a.logger.Warn(ctx, "engine did not start", "error", err)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.statusLine, scanner)
}

func (a *App) statusLine() string {
	if !a.isLoggedIn() {
		return "signed out"
	}
	if a.engine != nil && a.engine.IsMaster() {
		return "master"
	}
	return "signed in"
}

// Close stops the engine and releases both stores.
func (a *App) Close(ctx context.Context) {
	a.stopEngine(ctx)
	if err := a.store.Close(); err != nil {
		a.logger.Warn(ctx, "closing local store", "error", err)
	}
	a.remote.Close()
}
