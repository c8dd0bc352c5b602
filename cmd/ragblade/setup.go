package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/cache/sqlite"
	"github.com/flarexio/ragblade/embedder"
	"github.com/flarexio/ragblade/persistence/chromem"
	"github.com/flarexio/ragblade/persistence/memory"
	"github.com/flarexio/ragblade/persistence/pgvector"
	"github.com/flarexio/ragblade/provider"
	"github.com/flarexio/ragblade/vector"
)

type application struct {
	path    string
	svc     ragblade.Service
	closers []func() error
	log     *zap.Logger
}

func (app *application) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.log.Error(err.Error())
		}
	}

	app.log.Sync()
}

func setup(ctx context.Context, cmd *cli.Command) (*application, error) {
	path := cmd.String("path")
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		path = filepath.Join(homeDir, ".flarex", "ragblade")
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(log)

	app := &application{
		path: path,
		log:  log,
	}

	cfg, err := loadConfig(filepath.Join(path, "config.yaml"))
	if err != nil {
		return nil, err
	}

	if token := cmd.String("token"); token != "" {
		cfg.Provider.Token = token
	} else if cfg.Provider.Token == "" {
		cfg.Provider.Token = os.Getenv("RAGBLADE_TOKEN")
	}

	if dsn := cmd.String("dsn"); dsn != "" {
		cfg.Index.DSN = dsn
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := provider.New(cfg.Provider)
	if err != nil {
		return nil, err
	}

	index, err := newIndex(ctx, path, cfg.Index)
	if err != nil {
		return nil, err
	}

	var opts []embedder.Option
	if cfg.Embedding.Cache != "" {
		cache, err := sqlite.Open(resolve(path, cfg.Embedding.Cache))
		if err != nil {
			index.Close()
			return nil, err
		}

		app.closers = append(app.closers, cache.Close)
		opts = append(opts, embedder.WithCache(cache))
	}

	svc, err := ragblade.NewService(cfg, index, client, client, opts...)
	if err != nil {
		index.Close()
		app.Close()
		return nil, err
	}

	svc = ragblade.LoggingMiddleware(log)(svc)

	app.svc = svc
	app.closers = append(app.closers, svc.Close)

	return app, nil
}

func loadConfig(name string) (ragblade.Config, error) {
	var cfg ragblade.Config

	f, err := os.Open(name)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func newIndex(ctx context.Context, path string, cfg ragblade.IndexConfig) (vector.Index, error) {
	switch cfg.Engine {
	case "", ragblade.EngineMemory:
		return memory.NewIndex(), nil

	case ragblade.EngineChromem:
		dir := cfg.Path
		if dir == "" {
			dir = "vectors"
		}

		return chromem.NewIndex(chromem.Config{
			Persistent: true,
			Path:       resolve(path, dir),
			Compress:   cfg.Compress,
		})

	case ragblade.EnginePGVector:
		return pgvector.NewIndex(ctx, pgvector.Config{
			DSN:   cfg.DSN,
			Debug: cfg.Debug,
		})

	default:
		return nil, ragblade.ErrUnsupportedEngine
	}
}

func resolve(base, name string) string {
	if filepath.IsAbs(name) {
		return name
	}

	return filepath.Join(base, name)
}
