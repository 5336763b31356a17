package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/users"
)

const debtColumns = `d.id, d.creator_id,
	d.creditor_user_id, d.creditor_handle, d.creditor_name,
	d.debtor_user_id, d.debtor_handle, d.debtor_name,
	d.amount, d.currency, d.reason, d.status,
	d.confirmed_by_creditor, d.confirmed_by_debtor, d.created_at`

const paidColumn = `COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.debt_id = d.id AND p.confirmed), 0)`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDebt(row scanner, extra ...any) (ledger.Debt, error) {
	var (
		d      ledger.Debt
		status string
	)
	dest := []any{
		&d.ID, &d.CreatorID,
		&d.Creditor.UserID, &d.Creditor.Handle, &d.Creditor.Name,
		&d.Debtor.UserID, &d.Debtor.Handle, &d.Debtor.Name,
		&d.Amount, &d.Currency, &d.Reason, &status,
		&d.ConfirmedByCreditor, &d.ConfirmedByDebtor, &d.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return ledger.Debt{}, err
	}
	d.Status = ledger.Status(status)
	return d, nil
}

// lockDebt reads a debt with its confirmed payment sum and holds the row
// until tx ends.
func lockDebt(ctx context.Context, tx pgx.Tx, id int64) (ledger.Debt, error) {
	d, err := scanDebt(tx.QueryRow(ctx,
		`SELECT `+debtColumns+` FROM debts d WHERE d.id = $1 FOR UPDATE`, id))
	if isNoRows(err) {
		return ledger.Debt{}, apperr.NotFound("debt", id)
	}
	if err != nil {
		return ledger.Debt{}, err
	}
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE debt_id = $1 AND confirmed`, id,
	).Scan(&d.Paid); err != nil {
		return ledger.Debt{}, err
	}
	return d, nil
}

func saveDebtState(ctx context.Context, tx pgx.Tx, d ledger.Debt) error {
	_, err := tx.Exec(ctx,
		`UPDATE debts SET status = $2, confirmed_by_creditor = $3, confirmed_by_debtor = $4, updated_at = CURRENT_TIMESTAMP
         WHERE id = $1`,
		d.ID, string(d.Status), d.ConfirmedByCreditor, d.ConfirmedByDebtor,
	)
	return err
}

func (db *DB) CreateDebt(ctx context.Context, n ledger.NewDebt) (int64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO debts (creator_id,
             creditor_user_id, creditor_handle, creditor_name,
             debtor_user_id, debtor_handle, debtor_name,
             amount, currency, reason, status)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending')
         RETURNING id`,
		n.CreatorID,
		n.Creditor.UserID, users.NormalizeHandle(n.Creditor.Handle), n.Creditor.Name,
		n.Debtor.UserID, users.NormalizeHandle(n.Debtor.Handle), n.Debtor.Name,
		n.Amount, n.Currency, n.Reason,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ConfirmDebt sets the confirmation flag of userID's side under a row
// lock, so two parties confirming at once both see the final status.
func (db *DB) ConfirmDebt(ctx context.Context, debtID, userID int64) (bool, error) {
	return db.transition(ctx, debtID, func(d *ledger.Debt) bool { return d.Confirm(userID) })
}

func (db *DB) CancelDebt(ctx context.Context, debtID, userID int64) (bool, error) {
	return db.transition(ctx, debtID, func(d *ledger.Debt) bool { return d.Cancel(userID) })
}

func (db *DB) DisputeDebt(ctx context.Context, debtID, userID int64) (bool, error) {
	return db.transition(ctx, debtID, func(d *ledger.Debt) bool { return d.Dispute(userID) })
}

func (db *DB) transition(ctx context.Context, debtID int64, apply func(*ledger.Debt) bool) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d, err := lockDebt(ctx, tx, debtID)
	if ledger.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !apply(&d) {
		return false, nil
	}
	if err := saveDebtState(ctx, tx, d); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (db *DB) RecordPayment(ctx context.Context, debtID, payerID int64, amount decimal.Decimal) (int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d, err := lockDebt(ctx, tx, debtID)
	if err != nil {
		return 0, err
	}
	if err := d.CheckPayment(amount); err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO payments (debt_id, payer_id, amount) VALUES ($1, $2, $3) RETURNING id`,
		debtID, payerID, amount,
	).Scan(&id); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// ConfirmPayment marks a payment confirmed and settles the debt. The
// payment and debt rows stay locked until the new sum is written.
func (db *DB) ConfirmPayment(ctx context.Context, paymentID int64) (ledger.Debt, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return ledger.Debt{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		debtID    int64
		amount    decimal.Decimal
		confirmed bool
	)
	err = tx.QueryRow(ctx,
		`SELECT debt_id, amount, confirmed FROM payments WHERE id = $1 FOR UPDATE`, paymentID,
	).Scan(&debtID, &amount, &confirmed)
	if isNoRows(err) {
		return ledger.Debt{}, apperr.NotFound("payment", paymentID)
	}
	if err != nil {
		return ledger.Debt{}, err
	}

	d, err := lockDebt(ctx, tx, debtID)
	if err != nil {
		return ledger.Debt{}, err
	}
	if confirmed {
		return d, nil
	}
	if d.Status != ledger.StatusActive {
		return ledger.Debt{}, &apperr.StateError{State: string(d.Status), Msg: "payments need an active debt"}
	}
	if err := d.Settle(d.Paid.Add(amount)); err != nil {
		return ledger.Debt{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE payments SET confirmed = TRUE WHERE id = $1`, paymentID); err != nil {
		return ledger.Debt{}, err
	}
	if err := saveDebtState(ctx, tx, d); err != nil {
		return ledger.Debt{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Debt{}, err
	}
	return d, nil
}

// LinkPlaceholder attaches userID to every unresolved side holding handle.
func (db *DB) LinkPlaceholder(ctx context.Context, handle string, userID int64) (int, error) {
	h := users.NormalizeHandle(handle)
	if h == "" {
		return 0, nil
	}
	ct, err := db.pool.Exec(ctx,
		`UPDATE debts SET
             creditor_user_id = CASE WHEN creditor_user_id IS NULL AND creditor_handle = $1 THEN $2 ELSE creditor_user_id END,
             creditor_handle  = CASE WHEN creditor_user_id IS NULL AND creditor_handle = $1 THEN '' ELSE creditor_handle END,
             debtor_user_id   = CASE WHEN debtor_user_id IS NULL AND debtor_handle = $1 THEN $2 ELSE debtor_user_id END,
             debtor_handle    = CASE WHEN debtor_user_id IS NULL AND debtor_handle = $1 THEN '' ELSE debtor_handle END,
             updated_at = CURRENT_TIMESTAMP
         WHERE (creditor_user_id IS NULL AND creditor_handle = $1)
            OR (debtor_user_id IS NULL AND debtor_handle = $1)`,
		h, userID,
	)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (db *DB) GetDebt(ctx context.Context, id int64) (*ledger.Debt, error) {
	return getDebt(ctx, db.pool, id)
}

func getDebt(ctx context.Context, q querier, id int64) (*ledger.Debt, error) {
	var paid decimal.Decimal
	d, err := scanDebt(q.QueryRow(ctx,
		`SELECT `+debtColumns+`, `+paidColumn+` FROM debts d WHERE d.id = $1`, id), &paid)
	if isNoRows(err) {
		return nil, apperr.NotFound("debt", id)
	}
	if err != nil {
		return nil, err
	}
	d.Paid = paid
	return &d, nil
}

func (db *DB) GetPayment(ctx context.Context, id int64) (*ledger.Payment, error) {
	var p ledger.Payment
	err := db.pool.QueryRow(ctx,
		`SELECT id, debt_id, payer_id, amount, confirmed, created_at FROM payments WHERE id = $1`, id,
	).Scan(&p.ID, &p.DebtID, &p.PayerID, &p.Amount, &p.Confirmed, &p.CreatedAt)
	if isNoRows(err) {
		return nil, apperr.NotFound("payment", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListDebts returns the debts matching f, newest first.
func (db *DB) ListDebts(ctx context.Context, userID int64, f ledger.Filter) ([]ledger.Debt, error) {
	var where []string
	args := []any{userID}
	switch f.Role {
	case ledger.RoleCreditor:
		where = append(where, "d.creditor_user_id = $1")
	case ledger.RoleDebtor:
		where = append(where, "d.debtor_user_id = $1")
	default:
		where = append(where, "(d.creditor_user_id = $1 OR d.debtor_user_id = $1 OR d.creator_id = $1)")
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("d.status = ANY($%d)", len(args)))
	}
	query := `SELECT ` + debtColumns + `, ` + paidColumn + ` FROM debts d WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY d.id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Debt
	for rows.Next() {
		var paid decimal.Decimal
		d, err := scanDebt(rows, &paid)
		if err != nil {
			return nil, err
		}
		d.Paid = paid
		out = append(out, d)
	}
	return out, rows.Err()
}

func (db *DB) AddNotification(ctx context.Context, n ledger.Notification) (int64, error) {
	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO notifications (user_id, debt_id, message, type) VALUES ($1, $2, $3, $4) RETURNING id`,
		n.UserID, n.DebtID, n.Message, n.Type,
	).Scan(&id)
	return id, err
}

func (db *DB) ListNotifications(ctx context.Context, userID int64, unreadOnly bool) ([]ledger.Notification, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, debt_id, message, type, read, created_at FROM notifications
         WHERE user_id = $1 AND (NOT $2 OR NOT read)
         ORDER BY id DESC`,
		userID, unreadOnly,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Notification
	for rows.Next() {
		var n ledger.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.DebtID, &n.Message, &n.Type, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (db *DB) MarkNotificationRead(ctx context.Context, id, userID int64) (bool, error) {
	ct, err := db.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
