package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheSeeker/Sone-sub000/internal/config"
	"github.com/TheSeeker/Sone-sub000/internal/database"
	"github.com/TheSeeker/Sone-sub000/internal/directory"
	"github.com/TheSeeker/Sone-sub000/internal/document"
	"github.com/TheSeeker/Sone-sub000/internal/encryption"
	"github.com/TheSeeker/Sone-sub000/internal/fetch"
	"github.com/TheSeeker/Sone-sub000/internal/metrics"
	"github.com/TheSeeker/Sone-sub000/internal/publish"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
	"github.com/TheSeeker/Sone-sub000/internal/store"
	"github.com/TheSeeker/Sone-sub000/internal/substrate"
)

// ClientName identifies this software in published documents.
const ClientName = "Sone"

// Version is the client version written into published documents.
var Version = "dev"

// App is the application layer between the CLI and the sync engine.
// It constructs all components from config, loads persisted state into the
// store, exposes the operations of the CLI and writes state back on Close.
type App struct {
	cfg        *config.Config
	db         *database.SQLiteDatabase
	store      *store.MemoryStore
	builders   *sone.Builders
	codec      *document.Codec
	substrate  sone.Substrate
	directory  *directory.StaticDirectory
	metrics    *metrics.Collector
	fetcher    *fetch.Coordinator
	schedulers []*publish.Scheduler
	clock      sone.Clock
	logger     sone.Logger
	level      *slog.LevelVar
	debounce   atomic.Int64
	op         *Operation
	logFile    *os.File

	mu     sync.Mutex
	loaded map[string]time.Time // saved_at of the local_sones rows reflected in the store
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Run", "CreatePost").
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := &slog.LevelVar{}
	l, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	level.Set(l)

	clock := sone.RealClock{}
	runID := clock.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger.With("op", operation)}

	a, err := build(ctx, cfg, logger, clock)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.level = level
	a.logFile = logFile
	a.op = NewOperation(operation, "", clock.Now())
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, logger sone.Logger, clock sone.Clock) (*App, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sealer: %w", err)
	}
	sub, err := substrate.NewSubstrateFromConfig(ctx, cfg.Substrate, sealer, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating substrate: %w", err)
	}
	dir, err := directory.NewDirectoryFromConfig(cfg.Identities)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	builders := sone.NewBuilders(sone.UUIDGenerator{}, clock)
	a := &App{
		cfg:       cfg,
		db:        db,
		store:     store.NewMemoryStore(),
		builders:  builders,
		codec:     document.NewCodec(builders, sone.Client{Name: ClientName, Version: Version}, logger),
		substrate: sub,
		directory: dir,
		metrics:   metrics.NewCollector("sone"),
		clock:     clock,
		logger:    logger,
		loaded:    make(map[string]time.Time),
	}
	a.debounce.Store(int64(cfg.Publish.DebounceInterval.Duration))

	if err := a.load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	a.fetcher = fetch.NewCoordinator(a.store, a.codec, sub, dir, logger, a.metrics, fetch.Config{
		MaxFailures: cfg.Fetch.MaxFailures,
		Cooldown:    cfg.Fetch.Cooldown.Duration,
		MinInterval: cfg.Fetch.MinInterval.Duration,
	})
	a.fetcher.OnNewContent(func(nc fetch.NewContent) {
		logger.Info("new content", "sone", nc.SoneID, "posts", len(nc.PostIDs), "replies", len(nc.ReplyIDs))
	})

	for _, identity := range dir.Local() {
		a.schedulers = append(a.schedulers, publish.NewScheduler(
			identity.ID, a.store, a.codec, sub, db, clock, logger, a.metrics,
			publish.Config{
				PollInterval:   cfg.Publish.PollInterval.Duration,
				Debounce:       a.debounceInterval,
				PublishTimeout: cfg.Publish.PublishTimeout.Duration,
			}))
	}
	return a, nil
}

// load populates the store from the directory and the database.
func (a *App) load(ctx context.Context) error {
	known, err := a.db.LoadKnown(ctx)
	if err != nil {
		return err
	}
	a.store.LoadKnown(known)

	identities, err := a.directory.Identities(ctx)
	if err != nil {
		return fmt.Errorf("listing identities: %w", err)
	}
	for _, identity := range identities {
		a.store.AddSone(identity)
	}
	return a.reloadLocal(ctx)
}

// reloadLocal merges every persisted local identity saved after the version
// currently in the store.
func (a *App) reloadLocal(ctx context.Context) error {
	rows, err := a.db.LocalSones(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, row := range rows {
		if !row.SavedAt.After(a.loaded[row.ID]) {
			continue
		}
		identity, ok := a.directory.Identity(row.ID)
		if !ok || !identity.Local {
			a.logger.Warn("ignoring persisted sone that is not a configured local identity", "sone", row.ID)
			continue
		}
		original, _ := a.store.Sone(row.ID)
		decoded, err := a.codec.DecodeLocal(original, row.Document)
		if err != nil {
			return fmt.Errorf("loading local sone %s: %w", row.ID, err)
		}
		if err := a.store.StoreSone(*decoded); err != nil {
			return fmt.Errorf("loading local sone %s: %w", row.ID, err)
		}
		a.store.SetLocked(row.ID, row.Locked)
		a.loaded[row.ID] = row.SavedAt
		a.logger.Debug("loaded local sone", "sone", row.ID, "saved_at", row.SavedAt)
	}
	return nil
}

// Run starts the publish schedulers of all local identities, the fetch
// coordinator and, when configured, the metrics endpoint, and blocks until ctx
// is done. When configPath is not empty, changes to the config file adjust the
// debounce interval and the log level of the running process.
func (a *App) Run(ctx context.Context, configPath string) error {
	a.op.MarkMutating()
	a.logger.Info("starting", "local", len(a.schedulers), "substrate", a.cfg.Substrate.Type)

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range a.schedulers {
		g.Go(func() error { return s.Run(ctx) })
	}
	g.Go(func() error { return a.fetcher.Run(ctx) })
	g.Go(func() error { return a.watchLocal(ctx) })

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, configPath, a.applyConfig, func(err error) {
				a.logger.Warn("config reload failed", "path", configPath, "error", err)
			})
		})
	}

	err := g.Wait()
	a.logger.Info("stopped")
	return err
}

func (a *App) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

// watchLocal picks up local identities changed by other processes, such as
// the mutation commands of the CLI.
func (a *App) watchLocal(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Publish.PollInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.reloadLocal(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("reloading local sones failed", "error", err)
			}
		}
	}
}

// applyConfig adopts the settings of a reloaded configuration that can change
// while running.
func (a *App) applyConfig(cfg *config.Config) {
	a.debounce.Store(int64(cfg.Publish.DebounceInterval.Duration))
	if l, err := parseLevel(cfg.LogLevel); err == nil && a.level != nil {
		a.level.Set(l)
	}
	a.logger.Info("config reloaded", "debounce", cfg.Publish.DebounceInterval.Duration, "log_level", cfg.LogLevel)
}

func (a *App) debounceInterval() time.Duration {
	return time.Duration(a.debounce.Load())
}

// ResolveLocal returns the id of the local identity a command acts on. An empty
// id selects the only local identity.
func (a *App) ResolveLocal(id string) (string, error) {
	locals := a.directory.Local()
	if id == "" {
		if len(locals) != 1 {
			return "", fmt.Errorf("%w: %d local identities configured, select one", sone.ErrPrecondition, len(locals))
		}
		return locals[0].ID, nil
	}
	for _, identity := range locals {
		if identity.ID == id || identity.Name == id {
			return identity.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s is not a local identity", sone.ErrPrecondition, id)
}

// CreatePost creates a post of a local identity. recipientID may be empty.
func (a *App) CreatePost(soneID, recipientID, text string) (sone.Post, error) {
	if recipientID != "" && len(recipientID) != document.RecipientIDLength {
		return sone.Post{}, fmt.Errorf("%w: recipient %q is not an identity id", sone.ErrPrecondition, recipientID)
	}
	p, err := a.builders.Post().From(soneID).To(recipientID).Text(text).RandomID().CurrentTime().Build()
	if err != nil {
		return sone.Post{}, err
	}
	if err := a.store.StorePost(p); err != nil {
		return sone.Post{}, err
	}
	a.op.MarkMutating()
	a.logger.Info("created post", "sone", soneID, "post", p.ID)
	return p, nil
}

// CreateReply creates a reply of a local identity to a post.
func (a *App) CreateReply(soneID, postID, text string) (sone.Reply, error) {
	r, err := a.builders.Reply().From(soneID).ToPost(postID).Text(text).RandomID().CurrentTime().Build()
	if err != nil {
		return sone.Reply{}, err
	}
	if err := a.store.StoreReply(r); err != nil {
		return sone.Reply{}, err
	}
	a.op.MarkMutating()
	a.logger.Info("created reply", "sone", soneID, "post", postID, "reply", r.ID)
	return r, nil
}

// LikePost records that a local identity likes a known post.
func (a *App) LikePost(soneID, postID string) error {
	if _, ok := a.store.Post(postID); !ok {
		return fmt.Errorf("%w: unknown post %s", sone.ErrPrecondition, postID)
	}
	a.store.LikePost(soneID, postID)
	a.op.MarkMutating()
	return nil
}

// UnlikePost removes a like of a local identity.
func (a *App) UnlikePost(soneID, postID string) {
	a.store.UnlikePost(soneID, postID)
	a.op.MarkMutating()
}

// UpdateProfile applies fn to the profile of a local identity.
func (a *App) UpdateProfile(soneID string, fn func(*sone.Profile) error) error {
	if err := a.store.UpdateProfile(soneID, fn); err != nil {
		return err
	}
	a.op.MarkMutating()
	return nil
}

// SetLocked locks or unlocks publishing of a local identity.
func (a *App) SetLocked(soneID string, locked bool) {
	a.store.SetLocked(soneID, locked)
	a.op.MarkMutating()
}

// Export returns the encoded document of a local identity.
func (a *App) Export(soneID string) ([]byte, error) {
	s, ok := a.store.Sone(soneID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown sone %s", sone.ErrPrecondition, soneID)
	}
	return a.codec.EncodeDocument(s)
}

// Save writes the known sets and every local identity to the database. A local
// identity saved by another process since it was loaded is left untouched.
func (a *App) Save(ctx context.Context) error {
	if err := a.db.SaveKnown(ctx, a.store.Known()); err != nil {
		return err
	}
	for _, id := range a.store.LocalSoneIDs() {
		if err := a.saveLocal(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) saveLocal(ctx context.Context, id string) error {
	s, ok := a.store.Sone(id)
	if !ok {
		return fmt.Errorf("%w: unknown sone %s", sone.ErrPrecondition, id)
	}
	data, err := a.codec.EncodeLocal(s)
	if err != nil {
		return fmt.Errorf("encoding local sone %s: %w", id, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	row, err := a.db.LocalSone(ctx, id)
	if err != nil {
		return err
	}
	if row != nil && row.SavedAt.After(a.loaded[id]) {
		a.logger.Warn("local sone was saved by another process, keeping that version", "sone", id)
		return nil
	}

	// saved_at has millisecond resolution and must grow with every save.
	savedAt := sone.FromMillis(sone.Millis(a.clock.Now()))
	if !savedAt.After(a.loaded[id]) {
		savedAt = a.loaded[id].Add(time.Millisecond)
	}
	if err := a.db.SaveLocalSone(ctx, database.LocalSone{
		ID:       id,
		Document: data,
		Locked:   a.store.IsLocked(id),
		SavedAt:  savedAt,
	}); err != nil {
		return err
	}
	a.loaded[id] = savedAt
	return nil
}

// BackupDatabase writes a copy of the state database to path and checks that
// the copy opens with an up-to-date schema.
func (a *App) BackupDatabase(path string) error {
	if err := a.db.BackupTo(path); err != nil {
		return err
	}
	backup, err := database.NewSQLiteDatabase(path)
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer backup.Close()
	if err := backup.CheckMigrations(); err != nil {
		return fmt.Errorf("verifying backup: %w", err)
	}
	a.logger.Info("database backed up", "from", a.db.Path(), "to", path)
	return nil
}

// Forget deletes the persisted document and publish checkpoint of a local
// identity. The next run starts it from an empty identity and publishes that.
func (a *App) Forget(ctx context.Context, soneID string) error {
	if err := a.db.DeleteLocalSone(ctx, soneID); err != nil {
		return err
	}
	a.logger.Warn("forgot local sone", "sone", soneID)
	return nil
}

// Fail marks the operation as failed. Close then skips saving.
func (a *App) Fail() {
	a.op.Fail()
}

// Close saves state for mutating operations and closes all resources.
func (a *App) Close() error {
	var firstErr error

	if a.op.Mutating() && a.op.Status == "success" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.Save(ctx); err != nil {
			firstErr = fmt.Errorf("saving state: %w", err)
		}
		cancel()
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	a.logger.Info("operation finished", "status", a.op.Status, "duration", a.clock.Now().Sub(a.op.StartedAt))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Store returns the indexed store.
func (a *App) Store() *store.MemoryStore { return a.store }

// Substrate returns the publish substrate.
func (a *App) Substrate() sone.Substrate { return a.substrate }

// Metrics returns the metrics collector.
func (a *App) Metrics() *metrics.Collector { return a.metrics }

// Operation returns the operation the App was created for.
func (a *App) Operation() *Operation { return a.op }
