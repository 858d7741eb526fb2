package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/apperrors"
)

const (
	connectRetries = 5
	connectDelay   = 2 * time.Second
)

// Store is a thin adapter over the relational store. No operation spans
// more than one statement; there are no multi-statement transactions.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects to Postgres with bounded retries and exponential delay.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := New(db, log)
	delay := connectDelay
	for attempt := 1; attempt <= connectRetries; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			s.log.Info().Msg("connected to the database")
			return s, nil
		}
		s.log.Error().Err(err).Int("attempt", attempt).Msg("database connection failed")
		if attempt == connectRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	_ = db.Close()
	return nil, fmt.Errorf("connect to database: %w", err)
}

// New wraps an existing connection; used by tests.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "store").Logger()}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	s.log.Info().Msg("closing database connection")
	return s.db.Close()
}

// uniqueViolation is the Postgres error code for unique-key violations.
const uniqueViolation = "23505"

// mapError converts a unique-key violation into the distinguished
// duplicate outcome; everything else passes through.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperrors.NewDuplicate(what)
	}
	return err
}
