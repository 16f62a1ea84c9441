package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"siteledger/internal/db"
	"siteledger/internal/events"
	"siteledger/internal/gateway"
	"siteledger/internal/guard"
	"siteledger/internal/migrate"
	"siteledger/internal/repo"
	"siteledger/internal/store"
)

type SessionOptions struct {
	Workspace string
	// Remote talks to the REST API at BaseURL instead of the workspace database.
	Remote  bool
	BaseURL string
	Timeout time.Duration
	Token   string
	Actor   string
	Logger  *zap.Logger
}

// Session is one loaded store plus the guard that protects its selection.
type Session struct {
	Store *store.Store
	Guard *guard.Guard
	// Repo is set only for local sessions.
	Repo *repo.Repo

	conn *sql.DB
}

// NewSession wires a store and guard over gw without loading anything.
func NewSession(gw store.Gateway, token string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	st := store.New(gw,
		store.WithLogger(logger),
		store.WithTokenProvider(func() (string, bool) { return token, token != "" }),
	)
	return &Session{Store: st, Guard: guard.New(st, logger)}
}

// OpenRepo opens and migrates the workspace database.
func OpenRepo(ctx context.Context, workspace string) (repo.Repo, *sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return repo.Repo{}, nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := migrate.Up(ctx, conn); err != nil {
		conn.Close()
		return repo.Repo{}, nil, fmt.Errorf("migrate: %w", err)
	}
	return repo.Repo{DB: conn, Events: events.Writer{}}, conn, nil
}

// OpenSession picks the gateway for opts and loads the project list.
func OpenSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	var (
		gw   store.Gateway
		r    *repo.Repo
		conn *sql.DB
	)
	if opts.Remote {
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("remote session needs a base url")
		}
		c := gateway.NewClient(opts.BaseURL, opts.Timeout)
		c.Logger = opts.Logger
		gw = c
	} else {
		local, dbConn, err := OpenRepo(ctx, opts.Workspace)
		if err != nil {
			return nil, err
		}
		r, conn = &local, dbConn
		gw = gateway.Local{Repo: local, Actor: opts.Actor}
	}
	sess := NewSession(gw, opts.Token, opts.Logger)
	sess.Repo = r
	sess.conn = conn
	if err := sess.Store.Load(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
