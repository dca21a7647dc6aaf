// Package postgres implements storage.Store on lib/pq. The append path
// takes a row lock on the child's latest ledger entry so concurrent
// writers from separate processes surface as core.ErrRaceLost instead of
// lost updates.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"paghetta/internal/core"
	"paghetta/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

func NewStore(url string) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", core.ErrStoreUnavailable)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) CreateTenant(ctx context.Context, t core.Tenant) (core.Tenant, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, url_suffix, deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, t.URLSuffix, t.Deleted, t.CreatedTimestamp, t.UpdatedTimestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Tenant{}, fmt.Errorf("url suffix %q: %w", t.URLSuffix, core.ErrConflict)
		}
		return core.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (core.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, url_suffix, deleted, created_at, updated_at
		 FROM tenants WHERE id = $1 AND NOT deleted`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Tenant{}, fmt.Errorf("tenant %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *Store) GetTenantBySuffix(ctx context.Context, suffix string) (core.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, url_suffix, deleted, created_at, updated_at
		 FROM tenants WHERE lower(url_suffix) = lower($1) AND NOT deleted`, suffix)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Tenant{}, fmt.Errorf("tenant suffix %s: %w", suffix, core.ErrNotFound)
	}
	if err != nil {
		return core.Tenant{}, fmt.Errorf("get tenant by suffix: %w", err)
	}
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]core.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url_suffix, deleted, created_at, updated_at
		 FROM tenants WHERE NOT deleted ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var result []core.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) UpdateTenant(ctx context.Context, t core.Tenant) (core.Tenant, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET name = $1, url_suffix = $2, deleted = $3, updated_at = $4
		 WHERE id = $5`,
		t.Name, t.URLSuffix, t.Deleted, t.UpdatedTimestamp, t.ID)
	if err != nil {
		return core.Tenant{}, fmt.Errorf("update tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Tenant{}, fmt.Errorf("tenant %s: %w", t.ID, core.ErrNotFound)
	}
	return t, nil
}

func (s *Store) CreateChild(ctx context.Context, c core.Child) (core.Child, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO children (id, tenant_id, first_name, last_name, birth_date,
		   regular_allowance, birthday_allowance, hold_days_remaining, deleted,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.TenantID, c.FirstName, c.LastName, c.BirthDate,
		c.RegularAllowance, nullDecimal(c.BirthdayAllowance),
		c.HoldDaysRemaining, c.Deleted, c.CreatedTimestamp, c.UpdatedTimestamp)
	if err != nil {
		return core.Child{}, fmt.Errorf("create child: %w", err)
	}
	return c, nil
}

func (s *Store) GetChild(ctx context.Context, childID, tenantID string) (core.Child, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, first_name, last_name, birth_date, regular_allowance,
		   birthday_allowance, hold_days_remaining, deleted, created_at, updated_at
		 FROM children WHERE id = $1 AND tenant_id = $2 AND NOT deleted`,
		childID, tenantID)
	c, err := scanChild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Child{}, fmt.Errorf("child %s: %w", childID, core.ErrNotFound)
	}
	if err != nil {
		return core.Child{}, fmt.Errorf("get child: %w", err)
	}
	return c, nil
}

func (s *Store) ListChildren(ctx context.Context, tenantID string) ([]core.Child, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, first_name, last_name, birth_date, regular_allowance,
		   birthday_allowance, hold_days_remaining, deleted, created_at, updated_at
		 FROM children WHERE tenant_id = $1 AND NOT deleted ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var result []core.Child
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) UpdateChild(ctx context.Context, c core.Child) (core.Child, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE children SET first_name = $1, last_name = $2, birth_date = $3,
		   regular_allowance = $4, birthday_allowance = $5, hold_days_remaining = $6,
		   deleted = $7, updated_at = $8
		 WHERE id = $9 AND tenant_id = $10`,
		c.FirstName, c.LastName, c.BirthDate, c.RegularAllowance,
		nullDecimal(c.BirthdayAllowance), c.HoldDaysRemaining, c.Deleted,
		c.UpdatedTimestamp, c.ID, c.TenantID)
	if err != nil {
		return core.Child{}, fmt.Errorf("update child: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Child{}, fmt.Errorf("child %s: %w", c.ID, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx core.Transaction, prevBalance decimal.Decimal) (core.Transaction, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin append: %w", err)
	}
	defer dbTx.Rollback()

	var balanceStr string
	err = dbTx.QueryRowContext(ctx,
		`SELECT balance FROM transactions
		 WHERE tenant_id = $1 AND child_id = $2 AND NOT deleted
		 ORDER BY transaction_at DESC, created_at DESC LIMIT 1
		 FOR UPDATE`,
		tx.TenantID, tx.ChildID).Scan(&balanceStr)

	current := decimal.Zero
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// empty ledger, current stays zero
	case err != nil:
		return core.Transaction{}, fmt.Errorf("read latest balance: %w", err)
	default:
		current, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("parse latest balance: %w", err)
		}
	}

	if !current.Equal(prevBalance) {
		return core.Transaction{}, fmt.Errorf("child %s: balance moved from %s to %s: %w",
			tx.ChildID, prevBalance, current, core.ErrRaceLost)
	}

	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO transactions (id, tenant_id, child_id, amount, balance, type,
		   description, transaction_at, created_at, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tx.ID, tx.TenantID, tx.ChildID, tx.Amount, tx.Balance, string(tx.Type),
		tx.Description, tx.TransactionTimestamp, tx.CreatedTimestamp, tx.Deleted)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit append: %w", err)
	}
	return tx, nil
}

func (s *Store) LatestTransaction(ctx context.Context, childID, tenantID string) (core.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, child_id, amount, balance, type, description,
		   transaction_at, created_at, deleted
		 FROM transactions
		 WHERE tenant_id = $1 AND child_id = $2 AND NOT deleted
		 ORDER BY transaction_at DESC, created_at DESC LIMIT 1`,
		tenantID, childID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("child %s: %w", childID, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("latest transaction: %w", err)
	}
	return tx, nil
}

func (s *Store) LatestRegularTransaction(ctx context.Context, childID, tenantID string) (core.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, child_id, amount, balance, type, description,
		   transaction_at, created_at, deleted
		 FROM transactions
		 WHERE tenant_id = $1 AND child_id = $2 AND NOT deleted AND type = ANY($3)
		 ORDER BY transaction_at DESC, created_at DESC LIMIT 1`,
		tenantID, childID,
		pq.Array([]string{string(core.DailyAllowance), string(core.BirthdayAllowance)}))
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("child %s: %w", childID, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("latest regular transaction: %w", err)
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, childID, tenantID string, start, end *time.Time) ([]core.Transaction, error) {
	query := `SELECT id, tenant_id, child_id, amount, balance, type, description,
	            transaction_at, created_at, deleted
	          FROM transactions
	          WHERE tenant_id = $1 AND child_id = $2 AND NOT deleted`
	args := []any{tenantID, childID}
	if start != nil {
		args = append(args, *start)
		query += fmt.Sprintf(` AND transaction_at >= $%d`, len(args))
	}
	if end != nil {
		args = append(args, *end)
		query += fmt.Sprintf(` AND transaction_at <= $%d`, len(args))
	}
	query += ` ORDER BY transaction_at ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var result []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) PagedTransactions(ctx context.Context, childID, tenantID string, page, pageSize int, ignoreDailyAllowance bool) ([]core.Transaction, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d size %d", page, pageSize)
	}

	query := `SELECT id, tenant_id, child_id, amount, balance, type, description,
	            transaction_at, created_at, deleted
	          FROM transactions
	          WHERE tenant_id = $1 AND child_id = $2 AND NOT deleted`
	args := []any{tenantID, childID}
	if ignoreDailyAllowance {
		args = append(args, string(core.DailyAllowance))
		query += fmt.Sprintf(` AND type != $%d`, len(args))
	}
	args = append(args, pageSize, (page-1)*pageSize)
	query += fmt.Sprintf(` ORDER BY transaction_at DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("paged transactions: %w", err)
	}
	defer rows.Close()

	var result []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (core.Tenant, error) {
	var t core.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.URLSuffix, &t.Deleted,
		&t.CreatedTimestamp, &t.UpdatedTimestamp)
	return t, err
}

func scanChild(row scanner) (core.Child, error) {
	var (
		c        core.Child
		birthday sql.NullString
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.FirstName, &c.LastName, &c.BirthDate,
		&c.RegularAllowance, &birthday, &c.HoldDaysRemaining, &c.Deleted,
		&c.CreatedTimestamp, &c.UpdatedTimestamp)
	if err != nil {
		return core.Child{}, err
	}
	if birthday.Valid {
		d, err := decimal.NewFromString(birthday.String)
		if err != nil {
			return core.Child{}, err
		}
		c.BirthdayAllowance = &d
	}
	return c, nil
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var tx core.Transaction
	err := row.Scan(&tx.ID, &tx.TenantID, &tx.ChildID, &tx.Amount, &tx.Balance,
		&tx.Type, &tx.Description, &tx.TransactionTimestamp, &tx.CreatedTimestamp,
		&tx.Deleted)
	return tx, err
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ storage.Store = (*Store)(nil)
