package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool so services depend on one type for pooling and readiness.
type Pool struct {
	*pgxpool.Pool
}

// Options tunes the pool. Zero values keep the defaults below.
type Options struct {
	ApplicationName string
	MaxConns        int32
	MinConns        int32
}

const (
	defaultMaxConns        = 10
	defaultMinConns        = 1
	defaultMaxConnLifetime = 30 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute
)

// Open connects and pings. Sessions run in UTC so timestamptz values scan
// consistently; local time handling happens in Go with the tenant zone.
func Open(ctx context.Context, databaseURL string, opts Options) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = defaultMaxConns
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MinConns = defaultMinConns
	if opts.MinConns > 0 && opts.MinConns <= cfg.MaxConns {
		cfg.MinConns = opts.MinConns
	}
	cfg.MaxConnLifetime = defaultMaxConnLifetime
	cfg.MaxConnIdleTime = defaultMaxConnIdleTime
	cfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	if opts.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Pool{Pool: pool}, nil
}

func (p *Pool) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck reports whether the database answers a ping.
func ReadyCheck(p Pinger) func(context.Context) error {
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("db not configured")
		}
		if pool, ok := p.(*Pool); ok && (pool == nil || pool.Pool == nil) {
			return errors.New("db not configured")
		}
		return p.Ping(ctx)
	}
}
