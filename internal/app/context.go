package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"missioncontrol/internal/chair"
	"missioncontrol/internal/config"
	"missioncontrol/internal/db"
	"missioncontrol/internal/engine"
	"missioncontrol/internal/gateway"
	"missioncontrol/internal/migrate"
)

// Context is one opened workspace: migrated database, resolved config and the
// services built from it. Close releases the database.
type Context struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Gateway   *gateway.Client
	Chair     *chair.Chair
	Logger    *log.Logger
}

type Options struct {
	Workspace string
	Overrides config.Overrides
	// RequireConfig fails when the workspace has no config file instead of using defaults.
	RequireConfig bool
	Logger        *log.Logger
}

// Open prepares the workspace, applies migrations and wires the war-room chair to the
// gateway. Overrides win over the config file.
func Open(ctx context.Context, opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	var (
		cfg *config.Config
		err error
	)
	if opts.RequireConfig {
		cfg, err = config.Load(opts.Workspace)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	cfg.Apply(opts.Overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	client := gateway.NewClient(cfg.Gateway, logger)
	c := chair.New(e, gateway.Reporter{Client: client}, gateway.NewMessenger(client, cfg.Delivery), cfg, logger)
	return &Context{
		Workspace: opts.Workspace,
		DB:        conn,
		Config:    cfg,
		Engine:    e,
		Gateway:   client,
		Chair:     c,
		Logger:    logger,
	}, nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
