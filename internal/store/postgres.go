package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"stocksim/internal/domain"
	"stocksim/internal/util"
)

var _ UserStore = (*PostgresStore)(nil)

// ---------------------------------------------------------------------------
// Row types (table schema)
// ---------------------------------------------------------------------------

type userRow struct {
	ID         string          `gorm:"primaryKey"`
	Name       string          `gorm:"not null"`
	Credential string          `gorm:"uniqueIndex;not null"`
	Balance    decimal.Decimal `gorm:"type:numeric;not null"`
	CreatedAt  time.Time
}

func (userRow) TableName() string { return "users" }

type positionRow struct {
	UserID  string          `gorm:"primaryKey"`
	Ticker  string          `gorm:"primaryKey"`
	Qty     int64           `gorm:"not null"`
	AvgCost decimal.Decimal `gorm:"type:numeric;not null"`
}

func (positionRow) TableName() string { return "positions" }

type transactionRow struct {
	ID        string          `gorm:"primaryKey"`
	UserID    string          `gorm:"index:transactions_user_seq,priority:1;not null"`
	Seq       int             `gorm:"index:transactions_user_seq,priority:2;not null"`
	Timestamp time.Time       `gorm:"not null"`
	Ticker    string          `gorm:"not null"`
	Qty       int64           `gorm:"not null"`
	Price     decimal.Decimal `gorm:"type:numeric;not null"`
	Side      string          `gorm:"not null"`
}

func (transactionRow) TableName() string { return "transactions" }

// PostgresStore implements UserStore on PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to dsn, retrying while the database comes up,
// and migrates the schema.
func NewPostgresStore(ctx context.Context, dsn string, log *slog.Logger) (*PostgresStore, error) {
	var db *gorm.DB
	err := util.Retry(ctx, 5, time.Second, func() error {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Discard})
		if err != nil {
			log.Warn("postgres connect failed", "error", err)
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			log.Warn("postgres ping failed", "error", err)
			sqlDB.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&userRow{}, &positionRow{}, &transactionRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts a new user.
func (s *PostgresStore) Create(ctx context.Context, name string, balance decimal.Decimal) (*domain.User, error) {
	u := domain.NewUser(uuid.NewString(), name, uuid.NewString(), balance)
	row := userRow{ID: u.ID, Name: u.Name, Credential: u.Credential, Balance: u.Balance, CreatedAt: u.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("creating user %q: %w", name, err)
	}
	return u, nil
}

// Load reads the user owning credential with its positions and ledger.
func (s *PostgresStore) Load(ctx context.Context, credential string) (*domain.User, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}
	db := s.db.WithContext(ctx)

	var ur userRow
	err := db.Where("credential = ?", credential).First(&ur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	var prs []positionRow
	if err := db.Where("user_id = ?", ur.ID).Find(&prs).Error; err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	var trs []transactionRow
	if err := db.Where("user_id = ?", ur.ID).Order("seq").Find(&trs).Error; err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}
	return userFromRows(ur, prs, trs), nil
}

// Save writes the user in one database transaction.
func (s *PostgresStore) Save(ctx context.Context, u *domain.User) error {
	ur, prs, trs := rowsFromUser(u)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&userRow{}).Where("id = ?", ur.ID).
			Updates(map[string]any{"name": ur.Name, "balance": ur.Balance})
		if res.Error != nil {
			return fmt.Errorf("updating balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("unknown user")
		}

		if len(prs) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "ticker"}},
				DoUpdates: clause.AssignmentColumns([]string{"qty", "avg_cost"}),
			}).Create(&prs).Error
			if err != nil {
				return fmt.Errorf("upserting positions: %w", err)
			}
		}
		if len(trs) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&trs).Error; err != nil {
				return fmt.Errorf("appending transactions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrPersist, u.ID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversion helpers
// ---------------------------------------------------------------------------

func rowsFromUser(u *domain.User) (userRow, []positionRow, []transactionRow) {
	ur := userRow{ID: u.ID, Name: u.Name, Credential: u.Credential, Balance: u.Balance, CreatedAt: u.CreatedAt}

	var prs []positionRow
	if u.Portfolio != nil {
		for _, p := range u.Portfolio.Positions() {
			prs = append(prs, positionRow{UserID: u.ID, Ticker: p.Ticker, Qty: p.Qty, AvgCost: p.AvgCost})
		}
	}
	var trs []transactionRow
	if u.History != nil {
		for i, t := range u.History.All() {
			trs = append(trs, transactionRow{
				ID:        t.ID,
				UserID:    u.ID,
				Seq:       i,
				Timestamp: t.Timestamp,
				Ticker:    t.Ticker,
				Qty:       t.Qty,
				Price:     t.Price,
				Side:      string(t.Side),
			})
		}
	}
	return ur, prs, trs
}

func userFromRows(ur userRow, prs []positionRow, trs []transactionRow) *domain.User {
	u := &domain.User{
		ID:         ur.ID,
		Name:       ur.Name,
		Credential: ur.Credential,
		Balance:    ur.Balance,
		CreatedAt:  ur.CreatedAt.UTC(),
		Portfolio:  domain.NewPortfolio(),
		History:    domain.NewHistory(),
	}
	for _, p := range prs {
		u.Portfolio.Put(domain.Position{Ticker: p.Ticker, Qty: p.Qty, AvgCost: p.AvgCost})
	}
	for _, t := range trs {
		u.History.Append(domain.Transaction{
			ID:        t.ID,
			Timestamp: t.Timestamp.UTC(),
			Ticker:    t.Ticker,
			Qty:       t.Qty,
			Price:     t.Price,
			Side:      domain.Side(t.Side),
		})
	}
	return u
}
