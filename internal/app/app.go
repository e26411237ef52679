// Package app wires configuration into the concrete stores and services that
// the binaries share.
package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-digital-store/internal/allocator"
	"github.com/ariefcatur/go-digital-store/internal/catalog"
	"github.com/ariefcatur/go-digital-store/internal/cms"
	"github.com/ariefcatur/go-digital-store/internal/config"
	"github.com/ariefcatur/go-digital-store/internal/notifications"
	"github.com/ariefcatur/go-digital-store/internal/orders"
	"github.com/ariefcatur/go-digital-store/internal/reconcile"
)

// Catalog returns the link inventory store selected by CATALOG_BACKEND.
func Catalog(cfg config.Config, db *pgxpool.Pool) (catalog.Store, error) {
	switch cfg.Catalog {
	case config.CatalogPostgres:
		return &catalog.PGStore{DB: db}, nil
	case config.CatalogCMS:
		return cms.NewClient(cfg.CMS.ProjectURL, cfg.CMS.APIVersion, cfg.CMS.Dataset, cfg.CMS.Token, cfg.CMS.Timeout), nil
	case config.CatalogMemory:
		return catalog.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown catalog backend %q", cfg.Catalog)
}

// Reconciler builds the shared reconciliation component. publisher, live and
// cache may be nil.
func Reconciler(cfg config.Config, db *pgxpool.Pool, alloc *allocator.Allocator, publisher reconcile.Publisher,
	live reconcile.Broadcaster, cache reconcile.StatusCache, log *slog.Logger) *reconcile.Reconciler {
	return &reconcile.Reconciler{
		Orders:        &orders.Repo{DB: db},
		Allocator:     alloc,
		Notifications: &notifications.Repo{DB: db},
		Events:        publisher,
		Live:          live,
		Cache:         cache,
		Producer:      cfg.ServiceName,
		Log:           log.With("component", "reconcile"),
	}
}
