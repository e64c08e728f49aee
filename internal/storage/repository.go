// Package storage is the SQLite persistence layer. It implements the ledger
// repository port with plain SQL; schema changes go through embedded
// migrations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"subtrack/internal/core"

	_ "modernc.org/sqlite"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
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

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveSubscription upserts the subscription row and rewrites its child rows
// in one transaction. Child tables are small (price points, audit entries,
// linked IDs), a full rewrite keeps ordering trivially correct.
func (r *SQLiteRepository) SaveSubscription(ctx context.Context, sub *core.Subscription) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, merchant_key, name, amount_cents, currency, period, status,
			first_seen, next_renewal, saved_amount_cents, canceled_at,
			reopened, reinfer_period, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			amount_cents = excluded.amount_cents,
			currency = excluded.currency,
			period = excluded.period,
			status = excluded.status,
			first_seen = excluded.first_seen,
			next_renewal = excluded.next_renewal,
			saved_amount_cents = excluded.saved_amount_cents,
			canceled_at = excluded.canceled_at,
			reopened = excluded.reopened,
			reinfer_period = excluded.reinfer_period,
			version = excluded.version`,
		sub.ID, string(sub.MerchantKey), sub.Name, sub.Amount.Cents, sub.Currency,
		string(sub.Period), string(sub.Status),
		sub.FirstSeen.Format(dateLayout), nullableDate(sub.NextRenewal),
		sub.SavedAmount.Cents, nullableDate(sub.CanceledAt),
		boolToInt(sub.Reopened), boolToInt(sub.ReinferPeriod), sub.Version,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	for _, table := range []string{"price_history", "audit_log", "subscription_transactions", "subscription_emails"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE subscription_id = ?", sub.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, pp := range sub.PriceHistory {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO price_history (subscription_id, seq, date, amount_cents, provisional) VALUES (?, ?, ?, ?, ?)",
			sub.ID, i, pp.Date.Format(dateLayout), pp.Amount.Cents, boolToInt(pp.Provisional))
		if err != nil {
			return fmt.Errorf("insert price point: %w", err)
		}
	}
	for i, entry := range sub.Audit {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO audit_log (subscription_id, seq, at, event, from_status, to_status, note) VALUES (?, ?, ?, ?, ?, ?, ?)",
			sub.ID, i, entry.At.Format(timeLayout), entry.Trigger, string(entry.From), string(entry.To), entry.Note)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}
	for i, id := range sub.TransactionIDs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO subscription_transactions (subscription_id, seq, transaction_id) VALUES (?, ?, ?)",
			sub.ID, i, id)
		if err != nil {
			return fmt.Errorf("insert transaction link: %w", err)
		}
	}
	for i, id := range sub.EmailIDs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO subscription_emails (subscription_id, seq, email_id) VALUES (?, ?, ?)",
			sub.ID, i, id)
		if err != nil {
			return fmt.Errorf("insert email link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, merchant_key, name, amount_cents, currency, period, status,
	first_seen, next_renewal, saved_amount_cents, canceled_at, reopened, reinfer_period, version`

func (r *SQLiteRepository) FindByMerchantKey(ctx context.Context, key core.MerchantKey) (*core.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE merchant_key = ?", string(key))
	return r.scanSubscription(ctx, row)
}

func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*core.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", id)
	return r.scanSubscription(ctx, row)
}

func (r *SQLiteRepository) ListAll(ctx context.Context) ([]*core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*core.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	for _, sub := range out {
		if err := r.loadChildren(ctx, sub); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *SQLiteRepository) FindHistory(ctx context.Context, key core.MerchantKey) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, description, amount_cents, currency, posted_at, account_ref FROM transactions WHERE merchant_key = ? ORDER BY posted_at, id",
		string(key))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			txn      core.Transaction
			postedAt string
		)
		if err := rows.Scan(&txn.ID, &txn.Description, &txn.Amount.Cents, &txn.Currency, &postedAt, &txn.AccountRef); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txn.PostedAt, err = parseDate(postedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) AppendTransaction(ctx context.Context, key core.MerchantKey, txn core.Transaction) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO transactions (id, merchant_key, description, amount_cents, currency, posted_at, account_ref) VALUES (?, ?, ?, ?, ?, ?, ?)",
		txn.ID, string(key), txn.Description, txn.Amount.Cents, txn.Currency,
		txn.PostedAt.Format(dateLayout), txn.AccountRef)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanSubscription(ctx context.Context, row *sql.Row) (*core.Subscription, error) {
	sub, err := scanSubscriptionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func scanSubscriptionRow(row rowScanner) (*core.Subscription, error) {
	var (
		sub                     core.Subscription
		merchantKey             string
		period, status          string
		firstSeen               string
		nextRenewal, canceledAt sql.NullString
		reopened, reinfer       int
	)
	err := row.Scan(&sub.ID, &merchantKey, &sub.Name, &sub.Amount.Cents, &sub.Currency,
		&period, &status, &firstSeen, &nextRenewal, &sub.SavedAmount.Cents,
		&canceledAt, &reopened, &reinfer, &sub.Version)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.MerchantKey = core.MerchantKey(merchantKey)
	sub.Period = core.Period(period)
	sub.Status = core.Status(status)
	sub.Reopened = reopened != 0
	sub.ReinferPeriod = reinfer != 0
	if sub.FirstSeen, err = parseDate(firstSeen); err != nil {
		return nil, err
	}
	if sub.NextRenewal, err = parseNullableDate(nextRenewal); err != nil {
		return nil, err
	}
	if sub.CanceledAt, err = parseNullableDate(canceledAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SQLiteRepository) loadChildren(ctx context.Context, sub *core.Subscription) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT date, amount_cents, provisional FROM price_history WHERE subscription_id = ? ORDER BY seq", sub.ID)
	if err != nil {
		return fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pp          core.PricePoint
			date        string
			provisional int
		)
		if err := rows.Scan(&date, &pp.Amount.Cents, &provisional); err != nil {
			return fmt.Errorf("scan price point: %w", err)
		}
		if pp.Date, err = parseDate(date); err != nil {
			return err
		}
		pp.Provisional = provisional != 0
		sub.PriceHistory = append(sub.PriceHistory, pp)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate price history: %w", err)
	}

	auditRows, err := r.db.QueryContext(ctx,
		"SELECT at, event, from_status, to_status, note FROM audit_log WHERE subscription_id = ? ORDER BY seq", sub.ID)
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}
	defer auditRows.Close()
	for auditRows.Next() {
		var (
			entry    core.AuditEntry
			at       string
			from, to string
		)
		if err := auditRows.Scan(&at, &entry.Trigger, &from, &to, &entry.Note); err != nil {
			return fmt.Errorf("scan audit entry: %w", err)
		}
		entry.At, err = time.Parse(timeLayout, at)
		if err != nil {
			return fmt.Errorf("parse audit timestamp: %w", err)
		}
		entry.From = core.Status(from)
		entry.To = core.Status(to)
		sub.Audit = append(sub.Audit, entry)
	}
	if err := auditRows.Err(); err != nil {
		return fmt.Errorf("iterate audit log: %w", err)
	}

	if sub.TransactionIDs, err = r.loadLinks(ctx, "subscription_transactions", "transaction_id", sub.ID); err != nil {
		return err
	}
	if sub.EmailIDs, err = r.loadLinks(ctx, "subscription_emails", "email_id", sub.ID); err != nil {
		return err
	}
	return nil
}

func (r *SQLiteRepository) loadLinks(ctx context.Context, table, column, subID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+column+" FROM "+table+" WHERE subscription_id = ? ORDER BY seq", subID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullableDate(d core.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Format(dateLayout)
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return core.Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return core.Date{Time: t}, nil
}

func parseNullableDate(s sql.NullString) (core.Date, error) {
	if !s.Valid {
		return core.Date{}, nil
	}
	return parseDate(s.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
