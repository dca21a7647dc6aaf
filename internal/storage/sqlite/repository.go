// Package sqlite implements storage.Store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"paghetta/internal/core"
	"paghetta/internal/storage"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func (r *Repository) CreateTenant(ctx context.Context, t core.Tenant) (core.Tenant, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, url_suffix, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.URLSuffix, boolToInt(t.Deleted),
		formatTime(t.CreatedTimestamp), formatTime(t.UpdatedTimestamp))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Tenant{}, fmt.Errorf("url suffix %q: %w", t.URLSuffix, core.ErrConflict)
		}
		return core.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

func (r *Repository) GetTenant(ctx context.Context, id string) (core.Tenant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, url_suffix, deleted, created_at, updated_at
		 FROM tenants WHERE id = ? AND deleted = 0`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Tenant{}, fmt.Errorf("tenant %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (r *Repository) GetTenantBySuffix(ctx context.Context, suffix string) (core.Tenant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, url_suffix, deleted, created_at, updated_at
		 FROM tenants WHERE lower(url_suffix) = lower(?) AND deleted = 0`, suffix)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Tenant{}, fmt.Errorf("tenant suffix %s: %w", suffix, core.ErrNotFound)
	}
	if err != nil {
		return core.Tenant{}, fmt.Errorf("get tenant by suffix: %w", err)
	}
	return t, nil
}

func (r *Repository) ListTenants(ctx context.Context) ([]core.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, url_suffix, deleted, created_at, updated_at
		 FROM tenants WHERE deleted = 0 ORDER BY id`)
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

func (r *Repository) UpdateTenant(ctx context.Context, t core.Tenant) (core.Tenant, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET name = ?, url_suffix = ?, deleted = ?, updated_at = ?
		 WHERE id = ?`,
		t.Name, t.URLSuffix, boolToInt(t.Deleted), formatTime(t.UpdatedTimestamp), t.ID)
	if err != nil {
		return core.Tenant{}, fmt.Errorf("update tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Tenant{}, fmt.Errorf("tenant %s: %w", t.ID, core.ErrNotFound)
	}
	return t, nil
}

func (r *Repository) CreateChild(ctx context.Context, c core.Child) (core.Child, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO children (id, tenant_id, first_name, last_name, birth_date,
		   regular_allowance, birthday_allowance, hold_days_remaining, deleted,
		   created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.FirstName, c.LastName, nullTime(c.BirthDate),
		c.RegularAllowance.String(), nullDecimal(c.BirthdayAllowance),
		c.HoldDaysRemaining, boolToInt(c.Deleted),
		formatTime(c.CreatedTimestamp), formatTime(c.UpdatedTimestamp))
	if err != nil {
		return core.Child{}, fmt.Errorf("create child: %w", err)
	}
	return c, nil
}

func (r *Repository) GetChild(ctx context.Context, childID, tenantID string) (core.Child, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, first_name, last_name, birth_date, regular_allowance,
		   birthday_allowance, hold_days_remaining, deleted, created_at, updated_at
		 FROM children WHERE id = ? AND tenant_id = ? AND deleted = 0`,
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

func (r *Repository) ListChildren(ctx context.Context, tenantID string) ([]core.Child, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, first_name, last_name, birth_date, regular_allowance,
		   birthday_allowance, hold_days_remaining, deleted, created_at, updated_at
		 FROM children WHERE tenant_id = ? AND deleted = 0 ORDER BY id`, tenantID)
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

func (r *Repository) UpdateChild(ctx context.Context, c core.Child) (core.Child, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE children SET first_name = ?, last_name = ?, birth_date = ?,
		   regular_allowance = ?, birthday_allowance = ?, hold_days_remaining = ?,
		   deleted = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ?`,
		c.FirstName, c.LastName, nullTime(c.BirthDate),
		c.RegularAllowance.String(), nullDecimal(c.BirthdayAllowance),
		c.HoldDaysRemaining, boolToInt(c.Deleted), formatTime(c.UpdatedTimestamp),
		c.ID, c.TenantID)
	if err != nil {
		return core.Child{}, fmt.Errorf("update child: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Child{}, fmt.Errorf("child %s: %w", c.ID, core.ErrNotFound)
	}
	return c, nil
}

// AppendTransaction re-reads the latest balance inside a write transaction
// and refuses the insert when it no longer matches prevBalance. The whole
// check-and-insert runs under sqlite's single-writer lock.
func (r *Repository) AppendTransaction(ctx context.Context, tx core.Transaction, prevBalance decimal.Decimal) (core.Transaction, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin append: %w", err)
	}
	defer dbTx.Rollback()

	var balanceStr string
	err = dbTx.QueryRowContext(ctx,
		`SELECT balance FROM transactions
		 WHERE tenant_id = ? AND child_id = ? AND deleted = 0
		 ORDER BY transaction_at DESC, created_at DESC LIMIT 1`,
		tx.TenantID, tx.ChildID).Scan(&balanceStr)

	current := decimal.Zero
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// empty ledger, current stays zero
	case err != nil:
		return core.Transaction{}, fmt.Errorf("read latest balance: %w", err)
	default:
		current, err = parseDecimal(balanceStr)
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.TenantID, tx.ChildID, tx.Amount.String(), tx.Balance.String(),
		string(tx.Type), tx.Description, formatTime(tx.TransactionTimestamp),
		formatTime(tx.CreatedTimestamp), boolToInt(tx.Deleted))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit append: %w", err)
	}
	return tx, nil
}

func (r *Repository) LatestTransaction(ctx context.Context, childID, tenantID string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, child_id, amount, balance, type, description,
		   transaction_at, created_at, deleted
		 FROM transactions
		 WHERE tenant_id = ? AND child_id = ? AND deleted = 0
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

func (r *Repository) LatestRegularTransaction(ctx context.Context, childID, tenantID string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, child_id, amount, balance, type, description,
		   transaction_at, created_at, deleted
		 FROM transactions
		 WHERE tenant_id = ? AND child_id = ? AND deleted = 0 AND type IN (?, ?)
		 ORDER BY transaction_at DESC, created_at DESC LIMIT 1`,
		tenantID, childID, string(core.DailyAllowance), string(core.BirthdayAllowance))
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("child %s: %w", childID, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("latest regular transaction: %w", err)
	}
	return tx, nil
}

func (r *Repository) ListTransactions(ctx context.Context, childID, tenantID string, start, end *time.Time) ([]core.Transaction, error) {
	query := `SELECT id, tenant_id, child_id, amount, balance, type, description,
	            transaction_at, created_at, deleted
	          FROM transactions
	          WHERE tenant_id = ? AND child_id = ? AND deleted = 0`
	args := []any{tenantID, childID}
	if start != nil {
		query += ` AND transaction_at >= ?`
		args = append(args, formatTime(*start))
	}
	if end != nil {
		query += ` AND transaction_at <= ?`
		args = append(args, formatTime(*end))
	}
	query += ` ORDER BY transaction_at ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
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

func (r *Repository) PagedTransactions(ctx context.Context, childID, tenantID string, page, pageSize int, ignoreDailyAllowance bool) ([]core.Transaction, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d size %d", page, pageSize)
	}

	query := `SELECT id, tenant_id, child_id, amount, balance, type, description,
	            transaction_at, created_at, deleted
	          FROM transactions
	          WHERE tenant_id = ? AND child_id = ? AND deleted = 0`
	args := []any{tenantID, childID}
	if ignoreDailyAllowance {
		query += ` AND type != ?`
		args = append(args, string(core.DailyAllowance))
	}
	query += ` ORDER BY transaction_at DESC, created_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
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
	var (
		t                    core.Tenant
		deleted              int
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.URLSuffix, &deleted, &createdAt, &updatedAt); err != nil {
		return core.Tenant{}, err
	}
	t.Deleted = deleted != 0
	var err error
	if t.CreatedTimestamp, err = parseTime(createdAt); err != nil {
		return core.Tenant{}, err
	}
	if t.UpdatedTimestamp, err = parseTime(updatedAt); err != nil {
		return core.Tenant{}, err
	}
	return t, nil
}

func scanChild(row scanner) (core.Child, error) {
	var (
		c                    core.Child
		birthDate            sql.NullString
		regular              string
		birthday             sql.NullString
		deleted              int
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.FirstName, &c.LastName, &birthDate,
		&regular, &birthday, &c.HoldDaysRemaining, &deleted, &createdAt, &updatedAt); err != nil {
		return core.Child{}, err
	}
	c.Deleted = deleted != 0

	var err error
	if c.RegularAllowance, err = parseDecimal(regular); err != nil {
		return core.Child{}, err
	}
	if birthday.Valid {
		d, err := parseDecimal(birthday.String)
		if err != nil {
			return core.Child{}, err
		}
		c.BirthdayAllowance = &d
	}
	if birthDate.Valid {
		t, err := parseTime(birthDate.String)
		if err != nil {
			return core.Child{}, err
		}
		c.BirthDate = &t
	}
	if c.CreatedTimestamp, err = parseTime(createdAt); err != nil {
		return core.Child{}, err
	}
	if c.UpdatedTimestamp, err = parseTime(updatedAt); err != nil {
		return core.Child{}, err
	}
	return c, nil
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		tx                      core.Transaction
		amount, balance, typ    string
		transactionAt, createAt string
		deleted                 int
	)
	if err := row.Scan(&tx.ID, &tx.TenantID, &tx.ChildID, &amount, &balance, &typ,
		&tx.Description, &transactionAt, &createAt, &deleted); err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(typ)
	tx.Deleted = deleted != 0

	var err error
	if tx.Amount, err = parseDecimal(amount); err != nil {
		return core.Transaction{}, err
	}
	if tx.Balance, err = parseDecimal(balance); err != nil {
		return core.Transaction{}, err
	}
	if tx.TransactionTimestamp, err = parseTime(transactionAt); err != nil {
		return core.Transaction{}, err
	}
	if tx.CreatedTimestamp, err = parseTime(createAt); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ storage.Store = (*Repository)(nil)
