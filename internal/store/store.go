package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"furbox-service/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicate         = errors.New("duplicate key")
)

// Queries is everything the service layer can do inside one transaction.
type Queries interface {
	GetVariant(ctx context.Context, variantID int64) (*models.Variant, error)
	// AdjustStock applies a signed delta and appends an inventory log row.
	// Returns ErrInsufficientStock if stock would go negative.
	AdjustStock(ctx context.Context, variantID int64, delta int, reason string, orderID *int64) (*models.InventoryLog, error)
	ListInventoryLogs(ctx context.Context, variantID int64) ([]models.InventoryLog, error)

	GetAddress(ctx context.Context, id int64) (*models.Address, error)
	GetDefaultAddress(ctx context.Context, userID int64) (*models.Address, error)

	CreateDraft(ctx context.Context, draft *models.Draft) error
	GetDraft(ctx context.Context, id int64) (*models.Draft, error)
	// LockDraft loads a draft and holds its row lock until the transaction ends.
	LockDraft(ctx context.Context, id int64) (*models.Draft, error)
	ListDrafts(ctx context.Context, ownerID int64) ([]models.Draft, error)
	UpdateDraft(ctx context.Context, draft *models.Draft) error
	DeleteDraft(ctx context.Context, id int64) error
	ListDuePlanIDs(ctx context.Context, asOf time.Time) ([]int64, error)

	// UpsertDraftItem inserts the line or adds to the quantity of the
	// existing (product, variant) line, keeping its locked price.
	UpsertDraftItem(ctx context.Context, item *models.LineItem) error
	SetDraftItemQuantity(ctx context.Context, draftID, variantID int64, quantity int) error
	DeleteDraftItemsByProduct(ctx context.Context, draftID, productID int64) (int64, error)
	DeleteDraftItemByVariant(ctx context.Context, draftID, variantID int64) error

	NextOrderSequence(ctx context.Context, day time.Time) (int, error)
	// CreateOrder inserts the order and its items.
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) error

	LastCycleNumber(ctx context.Context, planID int64) (int, error)
	CreatePlanCycle(ctx context.Context, cycle *models.PlanCycle) error
	ListPlanCycles(ctx context.Context, planID int64) ([]models.PlanCycle, error)
	UpdateCycleStatusByOrder(ctx context.Context, orderID int64, status string) error
	CreateBundleOrder(ctx context.Context, bundle *models.BundleOrder) error

	UpsertCartItem(ctx context.Context, item *models.CartItem) error
	ListCartItems(ctx context.Context, userID int64) ([]models.CartItem, error)
	DeleteCartItems(ctx context.Context, userID int64, variantIDs []int64) error
}

// Runner executes fn inside a transaction. The transaction commits only when
// fn returns nil.
type Runner interface {
	WithTx(ctx context.Context, fn func(q Queries) error) error
}

type Store struct {
	db *sqlx.DB
}

var _ Runner = (*Store)(nil)

// NewStore connects with driver "postgres" (lib/pq) or "pgx".
func NewStore(driver, databaseURL string) (*Store, error) {
	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn in a read-committed transaction. Row locks taken by
// LockDraft and LockOrder serialize writers on the same row.
func (s *Store) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txQueries{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txQueries struct {
	tx *sqlx.Tx
}

var _ Queries = (*txQueries)(nil)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
