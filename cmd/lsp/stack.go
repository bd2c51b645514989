package main

import (
	"fmt"

	"github.com/775kkk/logic-signal-protector-sub000/internal/catalog"
	"github.com/775kkk/logic-signal-protector-sub000/internal/config"
	"github.com/775kkk/logic-signal-protector-sub000/internal/console"
	"github.com/775kkk/logic-signal-protector-sub000/internal/identity"
	"github.com/775kkk/logic-signal-protector-sub000/internal/market"
	"github.com/775kkk/logic-signal-protector-sub000/internal/normalize"
	"github.com/775kkk/logic-signal-protector-sub000/internal/router"
	"github.com/775kkk/logic-signal-protector-sub000/internal/session"
	"github.com/775kkk/logic-signal-protector-sub000/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// connectFromConfig loads the config and opens the configured database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := store.Connect(cfg.DB)
	if err != nil {
		return nil, nil, err
	}

	return cfg, gormDB, nil
}

// closeDB releases the connection pool behind gormDB.
func closeDB(gormDB *gorm.DB) {
	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}
}

// stack is the fully wired router with its collaborators.
type stack struct {
	cfg      *config.Config
	db       *gorm.DB
	sessions *session.Store
	overlay  *catalog.Overlay
	router   *router.Router
}

// buildStack wires the router from config. The schema is migrated so a
// fresh SQLite file works without a separate `lsp db migrate`.
func buildStack(cfg *config.Config, gormDB *gorm.DB, log *zap.Logger) (*stack, error) {
	if err := store.AutoMigrate(gormDB); err != nil {
		return nil, err
	}

	switches, err := store.NewSwitchStore(gormDB)
	if err != nil {
		return nil, err
	}
	overlay := catalog.NewOverlay(catalog.OverlayOpts{
		Source:  switches,
		TTL:     cfg.Router.SwitchRefresh(),
		Timeout: cfg.Router.CollaboratorTimeout(),
		Logger:  log.Named("switches"),
	})

	ids, err := newIdentity(cfg.Identity, gormDB)
	if err != nil {
		return nil, err
	}
	exec, err := console.NewGormExecutor(gormDB)
	if err != nil {
		return nil, err
	}

	sessions := session.New(session.Opts{
		TTL:        cfg.Router.SessionTTL(),
		MaxEntries: cfg.Router.MaxSessionEntries,
	})

	r, err := router.New(router.Opts{
		Identity:     ids,
		Switches:     overlay,
		SwitchAdmin:  switches,
		Sessions:     sessions,
		Normalizer:   normalize.New(normalize.Opts{Aliases: cfg.Router.Aliases}),
		Market:       market.NewISS(market.ISSOpts{BaseURL: cfg.Market.BaseURL}),
		Console:      exec,
		ProviderCode: cfg.Identity.ProviderCode,
		DevMode:      cfg.Router.DevMode,
		Timeout:      cfg.Router.CollaboratorTimeout(),
		PageSize:     cfg.Router.PageSize,
		MaxRows:      cfg.Console.MaxRows,
		DisplayRows:  cfg.Console.DisplayRows,
		DisplayCols:  cfg.Console.DisplayCols,
		DefaultBoard: cfg.Market.DefaultBoard,
		Logger:       log.Named("router"),
	})
	if err != nil {
		return nil, err
	}

	return &stack{cfg: cfg, db: gormDB, sessions: sessions, overlay: overlay, router: r}, nil
}

// newIdentity builds the configured identity collaborator.
func newIdentity(cfg config.IdentityConfig, gormDB *gorm.DB) (identity.Service, error) {
	switch cfg.Mode {
	case "remote":
		return identity.NewRemote(identity.RemoteOpts{
			BaseURL:      cfg.BaseURL,
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		})
	case "local", "":
		return identity.NewLocal(identity.LocalOpts{DB: gormDB})
	default:
		return nil, fmt.Errorf("identity: unsupported mode %q", cfg.Mode)
	}
}
