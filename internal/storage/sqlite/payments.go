package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
)

const paymentColumns = `gateway_order_id, payment_id, signature, status, cycle_id, user_id,
	amount_minor, currency, receipt, refund_id, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*models.PaymentRecord, error) {
	rec := &models.PaymentRecord{}
	var status string
	err := row.Scan(
		&rec.GatewayOrderID,
		&rec.PaymentID,
		&rec.Signature,
		&status,
		&rec.CycleID,
		&rec.UserID,
		&rec.AmountMinorUnits,
		&rec.Currency,
		&rec.Receipt,
		&rec.RefundID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = models.PaymentRecordStatus(status)
	return rec, nil
}

// CreatePayment persists a new payment record.
func (s *SQLiteStore) CreatePayment(ctx context.Context, rec *models.PaymentRecord) error {
	now := time.Now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		rec.GatewayOrderID, rec.PaymentID, rec.Signature, string(rec.Status), rec.CycleID, rec.UserID,
		rec.AmountMinorUnits, rec.Currency, rec.Receipt, rec.RefundID, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "constraint") {
			return fmt.Errorf("payment for order %s already exists: %w", rec.GatewayOrderID, errs.ErrConflict)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment record by gateway order ID.
func (s *SQLiteStore) GetPayment(ctx context.Context, gatewayOrderID string) (*models.PaymentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = ?`, gatewayOrderID,
	)
	rec, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment for order %s: %w", gatewayOrderID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return rec, nil
}

// GetPaymentByPaymentID retrieves a payment record by gateway payment ID.
func (s *SQLiteStore) GetPaymentByPaymentID(ctx context.Context, paymentID string) (*models.PaymentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE payment_id = ?`, paymentID,
	)
	rec, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment %s: %w", paymentID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by payment id: %w", err)
	}
	return rec, nil
}

// ListPaymentsByCycle returns every payment record for a cycle.
func (s *SQLiteStore) ListPaymentsByCycle(ctx context.Context, cycleID string) ([]*models.PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE cycle_id = ? ORDER BY created_at`, cycleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var recs []*models.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return recs, nil
}

// UpdatePayment applies fn to the payment record inside an immediate
// transaction, mirroring UpdateCycle.
func (s *SQLiteStore) UpdatePayment(ctx context.Context, gatewayOrderID string, fn func(*models.PaymentRecord) error) (*models.PaymentRecord, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		rec, err := s.updatePaymentOnce(ctx, gatewayOrderID, fn)
		if retryable(err) {
			if berr := backoff(ctx, attempt); berr != nil {
				return nil, berr
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, fmt.Errorf("update of payment %s exhausted %d attempts: %w", gatewayOrderID, maxRetries, errs.ErrPersistence)
}

func (s *SQLiteStore) updatePaymentOnce(ctx context.Context, gatewayOrderID string, fn func(*models.PaymentRecord) error) (*models.PaymentRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin payment update: %w", err)
	}
	defer tx.Rollback()

	var version int64
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+`, version FROM payments WHERE gateway_order_id = ?`, gatewayOrderID,
	)
	rec := &models.PaymentRecord{}
	var status string
	err = row.Scan(
		&rec.GatewayOrderID, &rec.PaymentID, &rec.Signature, &status, &rec.CycleID, &rec.UserID,
		&rec.AmountMinorUnits, &rec.Currency, &rec.Receipt, &rec.RefundID, &rec.CreatedAt, &rec.UpdatedAt,
		&version,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment for order %s: %w", gatewayOrderID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	rec.Status = models.PaymentRecordStatus(status)

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Now().Unix()

	res, err := tx.ExecContext(ctx,
		`UPDATE payments
		 SET payment_id = ?, signature = ?, status = ?, refund_id = ?, version = version + 1, updated_at = ?
		 WHERE gateway_order_id = ? AND version = ?`,
		rec.PaymentID, rec.Signature, string(rec.Status), rec.RefundID, rec.UpdatedAt,
		gatewayOrderID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected != 1 {
		return nil, fmt.Errorf("payment %s: %w", gatewayOrderID, errStaleVersion)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment update: %w", err)
	}
	return rec, nil
}
