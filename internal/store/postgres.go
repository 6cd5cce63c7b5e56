package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papertrade/portfolio-game/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// OpenPostgres creates a connection pool with the shopspring decimal codec
// registered on every connection and verifies connectivity.
func OpenPostgres(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// the portfolio is a JSONB document replaced as a whole on every update.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store. The pool should
// come from OpenPostgres so NUMERIC columns scan into decimal.Decimal.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, username string) (*model.UserProfile, error) {
	var p model.UserProfile
	var portfolio []byte

	err := s.pool.QueryRow(ctx,
		`SELECT username, create_date, funds_available, portfolio
		 FROM profiles WHERE username = $1`, username).
		Scan(&p.Username, &p.CreateDate, &p.FundsAvailable, &portfolio)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", username, err)
	}
	if err := decodePortfolio(portfolio, &p); err != nil {
		return nil, fmt.Errorf("get profile %s: %w", username, err)
	}
	return &p, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *model.UserProfile) error {
	portfolio, err := encodePortfolio(p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (username, create_date, funds_available, portfolio)
		 VALUES ($1, $2, $3, $4::JSONB)
		 ON CONFLICT (username) DO NOTHING`,
		p.Username, p.CreateDate, p.FundsAvailable, portfolio,
	)
	if err != nil {
		return fmt.Errorf("create profile %s: %w", p.Username, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, username string, p *model.UserProfile) error {
	portfolio, err := encodePortfolio(p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles
		 SET funds_available = $2, portfolio = $3::JSONB
		 WHERE username = $1`,
		username, p.FundsAvailable, portfolio,
	)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]model.UserProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username, create_date, funds_available, portfolio
		 FROM profiles ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []model.UserProfile
	for rows.Next() {
		var p model.UserProfile
		var portfolio []byte
		if err := rows.Scan(&p.Username, &p.CreateDate, &p.FundsAvailable, &portfolio); err != nil {
			return nil, err
		}
		if err := decodePortfolio(portfolio, &p); err != nil {
			return nil, fmt.Errorf("list profiles: %s: %w", p.Username, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *PostgresStore) Append(ctx context.Context, tx *model.Transaction) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO transactions (ref, date, username, ticker, price, shares, status, remaining_funds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (ref) DO NOTHING
		 RETURNING id`,
		tx.Ref, tx.Date, tx.Username, tx.Ticker,
		tx.Price, tx.Shares, string(tx.Status), tx.RemainingFunds,
	).Scan(&tx.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Ref already recorded by an earlier attempt.
		err = s.pool.QueryRow(ctx, `SELECT id FROM transactions WHERE ref = $1`, tx.Ref).Scan(&tx.ID)
	}
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.Ref, err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, username string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ref, date, username, ticker, price, shares, status, remaining_funds
		 FROM transactions WHERE username = $1 ORDER BY id`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// pgxRows is the subset of pgx.Rows used for scanning.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var status string
		if err := rows.Scan(&tx.ID, &tx.Ref, &tx.Date, &tx.Username, &tx.Ticker,
			&tx.Price, &tx.Shares, &status, &tx.RemainingFunds); err != nil {
			return nil, err
		}
		tx.Status = model.Side(status)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func encodePortfolio(p *model.UserProfile) (string, error) {
	portfolio := p.Portfolio
	if portfolio == nil {
		portfolio = model.Portfolio{}
	}
	data, err := json.Marshal(portfolio)
	if err != nil {
		return "", fmt.Errorf("encode portfolio: %w", err)
	}
	return string(data), nil
}

func decodePortfolio(data []byte, p *model.UserProfile) error {
	p.Portfolio = model.Portfolio{}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &p.Portfolio); err != nil {
		return fmt.Errorf("decode portfolio: %w", err)
	}
	return nil
}
