package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned (wrapped) when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned (wrapped) when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate")
)

const uniqueViolation = "23505"

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
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

// NewWithDB wraps an existing connection
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
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
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a database transaction. The transaction is committed
// when fn returns nil and rolled back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// mapWriteError converts driver errors into store sentinels.
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

const productColumns = `
	p.id, p.uuid, p.name, p.code, p.category_id, c.code AS category_code, c.name AS category_name,
	c.is_packaged, p.unit_id, u.name AS unit_name, u.base_quantity AS unit_base_quantity,
	p.price, p.bottom, p.top, p.is_import, p.is_weekly, p.is_special`

const productFrom = `
	FROM products p
	JOIN product_categories c ON c.id = p.category_id
	JOIN units u ON u.id = p.unit_id`

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT"+productColumns+productFrom+" WHERE p.id = $1", id)
	if err != nil {
		return nil, notFound(err, "product %d", id)
	}
	return &product, nil
}

// GetProductByUUID retrieves a product by its external UUID
func (s *Store) GetProductByUUID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT"+productColumns+productFrom+" WHERE p.uuid = $1", id)
	if err != nil {
		return nil, notFound(err, "product %s", id)
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT"+productColumns+productFrom+" WHERE p.id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetStallByUUID retrieves a stall by its external UUID
func (s *Store) GetStallByUUID(ctx context.Context, id uuid.UUID) (*models.Stall, error) {
	var stall models.Stall
	err := s.db.GetContext(ctx, &stall,
		"SELECT id, uuid, object_id, name, is_active, cadence, product_types FROM stalls WHERE uuid = $1", id)
	if err != nil {
		return nil, notFound(err, "stall %s", id)
	}
	return &stall, nil
}

// GetStallByID retrieves a stall by ID
func (s *Store) GetStallByID(ctx context.Context, id int64) (*models.Stall, error) {
	var stall models.Stall
	err := s.db.GetContext(ctx, &stall,
		"SELECT id, uuid, object_id, name, is_active, cadence, product_types FROM stalls WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "stall %d", id)
	}
	return &stall, nil
}

// GetObjectByID retrieves an object by ID
func (s *Store) GetObjectByID(ctx context.Context, id int64) (*models.Object, error) {
	var object models.Object
	err := s.db.GetContext(ctx, &object,
		"SELECT id, uuid, name, code, district_id, employee_id, is_active FROM objects WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "object %d", id)
	}
	return &object, nil
}

// GetEmployeeByUUID retrieves an employee by UUID
func (s *Store) GetEmployeeByUUID(ctx context.Context, id uuid.UUID) (*models.Employee, error) {
	var employee models.Employee
	err := s.db.GetContext(ctx, &employee,
		"SELECT id, uuid, full_name, login, district_id FROM employees WHERE uuid = $1", id)
	if err != nil {
		return nil, notFound(err, "employee %s", id)
	}
	return &employee, nil
}

// GetEmployeeByLogin retrieves an employee by login
func (s *Store) GetEmployeeByLogin(ctx context.Context, login string) (*models.Employee, error) {
	var employee models.Employee
	err := s.db.GetContext(ctx, &employee,
		"SELECT id, uuid, full_name, login, district_id FROM employees WHERE login = $1", login)
	if err != nil {
		return nil, notFound(err, "employee %s", login)
	}
	return &employee, nil
}
