package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"attache/internal/attache"
	"attache/internal/config"
	"attache/internal/database"
	"attache/internal/encryption"
	"attache/internal/engine"
	"attache/internal/fs"
	"attache/internal/storage"
)

// App is the application layer between the CLI and the attachment schema.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string arguments, and persists records after attaching.
type App struct {
	cfg       *config.Config
	store     *database.SQLiteStore
	formats   *attache.FormatRegistry
	providers *attache.ProviderRegistry
	engine    engine.Engine
	fsmgr     *fs.OSFilesystemManager
	schema    *attache.Schema
	logger    attache.Logger
	clock     attache.Clock
	op        *Operation
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Attach", "RefreshFormats").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string, params ...string) (*App, error) {
	eng, err := engine.NewEngineFromConfig(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return newApp(ctx, cfg, eng, attache.RealClock{}, operation, params...)
}

func newApp(ctx context.Context, cfg *config.Config, eng engine.Engine, clock attache.Clock, operation string, params ...string) (*App, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	op := NewOperation(operation, clock.Now(), params...)
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &App{
		cfg:       cfg,
		formats:   attache.NewFormatRegistry(),
		providers: attache.NewProviderRegistry(),
		engine:    eng,
		fsmgr:     fs.NewOSFilesystemManager(cfg.WorkDir),
		logger:    logger,
		clock:     clock,
		op:        op,
		logFile:   logFile,
	}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}

	logger.Debug("operation started", "operation", op.Describe())
	return a, nil
}

// init opens the record store, restores the processable formats and
// compiles the schema.
func (a *App) init(ctx context.Context) error {
	store, err := database.NewRecordStoreFromConfig(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("creating record store: %w", err)
	}
	a.store = store

	if err := store.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date (run `attache db migrate`): %w", err)
	}

	stored, err := store.LoadFormats()
	if err != nil {
		return err
	}
	a.formats.Replace(stored)
	for _, f := range a.cfg.Formats {
		a.formats.Register(f)
	}

	if err := storage.RegisterBuiltins(a.providers); err != nil {
		return err
	}
	provider := a.cfg.Storage.Provider
	if a.cfg.Storage.Encrypt {
		enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
		if err != nil {
			return fmt.Errorf("creating encryptor: %w", err)
		}
		provider, err = storage.RegisterEncrypted(a.providers, provider, enc, a.cfg.WorkDir)
		if err != nil {
			return fmt.Errorf("registering encrypted provider: %w", err)
		}
	}

	opts, err := schemaOptions(a.cfg, provider)
	if err != nil {
		return err
	}
	schema, err := attache.Compile(ctx, opts, attache.Env{
		Formats:   a.formats,
		Providers: a.providers,
		Engine:    a.engine,
		FS:        a.fsmgr,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("compiling attachment schema: %w", err)
	}
	a.schema = schema

	if err := store.RegisterFields(schema.Model(), schema.Fields()); err != nil {
		return fmt.Errorf("registering attachment fields: %w", err)
	}
	return nil
}

// CreateRecord creates a record of the configured model.
func (a *App) CreateRecord(fields map[string]string) (*attache.Record, error) {
	rec, err := a.store.CreateRecord(a.schema.Model(), fields)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	a.logger.Info("record created", "record", rec.ID, "model", rec.Model)
	return rec, nil
}

// GetRecord returns the record with id.
func (a *App) GetRecord(id string) (*attache.Record, error) {
	rec, err := a.store.FindRecord(id)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	if rec == nil {
		return nil, a.op.Fail(fmt.Errorf("record %s not found", id))
	}
	return rec, nil
}

// Attach resolves rawPath, attaches it to property of the record and saves
// the record. name overrides the stored original file name when non-empty.
// The record is only saved when every style succeeded.
func (a *App) Attach(ctx context.Context, recordID, property, rawPath, name string) (*attache.Record, error) {
	p, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return nil, a.op.Fail(fmt.Errorf("resolving path: %w", err))
	}

	rec, err := a.GetRecord(recordID)
	if err != nil {
		return nil, err
	}
	if rec.Model != a.schema.Model() {
		return nil, a.op.Fail(fmt.Errorf("record %s has model %q, schema is for %q", rec.ID, rec.Model, a.schema.Model()))
	}

	info := &attache.AttachmentInfo{SourcePath: p, OriginalName: name}
	if err := a.schema.Attach(ctx, rec, property, info); err != nil {
		return nil, a.op.Fail(err)
	}
	if err := a.store.SaveRecord(rec); err != nil {
		return nil, a.op.Fail(fmt.Errorf("saving record: %w", err))
	}

	a.logger.Info("attached", "record", rec.ID, "property", property, "source", p)
	return rec, nil
}

// Formats returns the current processable formats.
func (a *App) Formats() []string {
	return a.formats.Formats()
}

// RegisterFormat adds a processable format and stores the new set.
func (a *App) RegisterFormat(name string) error {
	a.formats.Register(name)
	if err := a.store.SaveFormats(a.formats.Formats()); err != nil {
		return a.op.Fail(err)
	}
	a.logger.Info("format registered", "format", name)
	return nil
}

// RefreshFormats asks the engine which formats have the requested
// capabilities. Unless dryRun is set, the result replaces the processable
// set and is stored.
func (a *App) RefreshFormats(ctx context.Context, flags attache.CapabilityFlags, dryRun bool) ([]string, error) {
	if dryRun {
		formats, err := a.formats.Query(ctx, a.engine, flags)
		return formats, a.op.Fail(err)
	}

	formats, err := a.formats.Refresh(ctx, a.engine, flags)
	if err != nil {
		a.logger.Warn("format refresh failed, keeping current set", "error", err)
		return nil, a.op.Fail(err)
	}
	if err := a.store.SaveFormats(formats); err != nil {
		return nil, a.op.Fail(err)
	}
	a.logger.Info("formats refreshed", "count", len(formats))
	return formats, nil
}

// BackupDatabase writes a copy of the record store to destPath.
func (a *App) BackupDatabase(destPath string) error {
	return a.op.Fail(a.store.BackupTo(destPath))
}

// Close logs the operation outcome and closes all resources.
func (a *App) Close() error {
	elapsed := a.clock.Now().Sub(a.op.StartedAt)
	if a.op.Failed() {
		a.logger.Warn("operation finished", "operation", a.op.Name, "status", a.op.Status, "elapsed", elapsed)
	} else {
		a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status, "elapsed", elapsed)
	}
	return a.close()
}

func (a *App) close() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// MigrateDatabase applies pending schema migrations to the configured
// record store.
func MigrateDatabase(cfg *config.Config) error {
	store, err := database.NewRecordStoreFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating record store: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// SetupKeys generates the configured age key pair, protecting the private
// key with passphrase.
func SetupKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up keys: %w", err)
	}
	return nil
}

// Decrypt decrypts the stored file inPath to outPath.
func Decrypt(cfg *config.Config, passphrase, inPath, outPath string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inPath, err)
	}
	defer in.Close()

	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	if err := dc.Decrypt(in, out); err != nil {
		out.Close()
		os.Remove(outPath)
		return fmt.Errorf("decrypting %s: %w", inPath, err)
	}
	return out.Close()
}

var _ io.Closer = (*App)(nil)
