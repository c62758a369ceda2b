package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stocksim/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ UserStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	credential  TEXT NOT NULL UNIQUE,
	balance     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	user_id   TEXT NOT NULL REFERENCES users(id),
	ticker    TEXT NOT NULL,
	qty       INTEGER NOT NULL,
	avg_cost  TEXT NOT NULL,
	PRIMARY KEY (user_id, ticker)
);
CREATE TABLE IF NOT EXISTS transactions (
	id        TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL REFERENCES users(id),
	seq       INTEGER NOT NULL,
	ts        INTEGER NOT NULL,
	ticker    TEXT NOT NULL,
	qty       INTEGER NOT NULL,
	price     TEXT NOT NULL,
	side      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_user_seq ON transactions(user_id, seq);
`

// SQLiteStore implements UserStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", dbPath, err)
	}
	// A single connection serialises writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// UserStore implementation
// ---------------------------------------------------------------------------

// Create inserts a new user with a random id and credential.
func (s *SQLiteStore) Create(ctx context.Context, name string, balance decimal.Decimal) (*domain.User, error) {
	u := domain.NewUser(uuid.NewString(), name, uuid.NewString(), balance)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, credential, balance, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Credential, u.Balance.String(), u.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("creating user %q: %w", name, err)
	}
	return u, nil
}

// Load reads the user, its positions and its ledger.
func (s *SQLiteStore) Load(ctx context.Context, credential string) (*domain.User, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}

	var (
		u       domain.User
		balance string
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, credential, balance, created_at FROM users WHERE credential = ?`, credential).
		Scan(&u.ID, &u.Name, &u.Credential, &balance, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if u.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parsing balance of %s: %w", u.ID, err)
	}
	u.CreatedAt = time.Unix(0, created).UTC()

	if u.Portfolio, err = s.loadPositions(ctx, u.ID); err != nil {
		return nil, err
	}
	if u.History, err = s.loadHistory(ctx, u.ID); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) loadPositions(ctx context.Context, userID string) (*domain.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, qty, avg_cost FROM positions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	defer rows.Close()

	p := domain.NewPortfolio()
	for rows.Next() {
		var (
			pos  domain.Position
			cost string
		)
		if err := rows.Scan(&pos.Ticker, &pos.Qty, &cost); err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		if pos.AvgCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("parsing cost of %s: %w", pos.Ticker, err)
		}
		p.Put(pos)
	}
	return p, rows.Err()
}

func (s *SQLiteStore) loadHistory(ctx context.Context, userID string) (*domain.History, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, ticker, qty, price, side FROM transactions WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}
	defer rows.Close()

	h := domain.NewHistory()
	for rows.Next() {
		var (
			tx    domain.Transaction
			ts    int64
			price string
			side  string
		)
		if err := rows.Scan(&tx.ID, &ts, &tx.Ticker, &tx.Qty, &price, &side); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		if tx.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parsing price of %s: %w", tx.ID, err)
		}
		tx.Timestamp = time.Unix(0, ts).UTC()
		tx.Side = domain.Side(side)
		h.Append(tx)
	}
	return h, rows.Err()
}

// Save writes the user in a single transaction: balance and name are
// updated, every position is upserted, and ledger entries are inserted
// unless already present.
func (s *SQLiteStore) Save(ctx context.Context, u *domain.User) error {
	if err := s.save(ctx, u); err != nil {
		return fmt.Errorf("%w %s: %w", ErrPersist, u.ID, err)
	}
	return nil
}

func (s *SQLiteStore) save(ctx context.Context, u *domain.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET name = ?, balance = ? WHERE id = ?`, u.Name, u.Balance.String(), u.ID)
	if err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("unknown user")
	}

	if u.Portfolio != nil {
		for _, pos := range u.Portfolio.Positions() {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO positions (user_id, ticker, qty, avg_cost) VALUES (?, ?, ?, ?)
				ON CONFLICT (user_id, ticker) DO UPDATE SET qty = excluded.qty, avg_cost = excluded.avg_cost`,
				u.ID, pos.Ticker, pos.Qty, pos.AvgCost.String())
			if err != nil {
				return fmt.Errorf("upserting position %s: %w", pos.Ticker, err)
			}
		}
	}

	if u.History != nil {
		for i, t := range u.History.All() {
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO transactions (id, user_id, seq, ts, ticker, qty, price, side)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, u.ID, i, t.Timestamp.UnixNano(), t.Ticker, t.Qty, t.Price.String(), string(t.Side))
			if err != nil {
				return fmt.Errorf("inserting transaction %s: %w", t.ID, err)
			}
		}
	}

	return tx.Commit()
}
