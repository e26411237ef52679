package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-digital-store/internal/allocator"
	"github.com/ariefcatur/go-digital-store/internal/app"
	"github.com/ariefcatur/go-digital-store/internal/catalog"
	"github.com/ariefcatur/go-digital-store/internal/config"
	"github.com/ariefcatur/go-digital-store/internal/postgres"
)

// commandContext opens shared resources on first use.
type commandContext struct {
	configOnce sync.Once
	config     config.Config
	configErr  error

	dbOnce sync.Once
	db     *pgxpool.Pool
	dbErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return slog.Default()
	}
	return cfg.Logger()
}

func (c *commandContext) ensureDB(ctx context.Context) (*pgxpool.Pool, error) {
	c.dbOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.dbErr = err
			return
		}
		c.db, c.dbErr = postgres.Connect(ctx, cfg.PostgresDSN)
	})
	return c.db, c.dbErr
}

func (c *commandContext) catalog(ctx context.Context) (catalog.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	var db *pgxpool.Pool
	if cfg.Catalog == config.CatalogPostgres {
		if db, err = c.ensureDB(ctx); err != nil {
			return nil, err
		}
	}
	return app.Catalog(cfg, db)
}

func (c *commandContext) allocator(ctx context.Context) (*allocator.Allocator, error) {
	store, err := c.catalog(ctx)
	if err != nil {
		return nil, err
	}
	return allocator.New(store, c.config.AllocAttempts, c.logger()), nil
}

func (c *commandContext) close() {
	if c.db != nil {
		c.db.Close()
	}
}
