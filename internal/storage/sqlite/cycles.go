package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
)

// refundsPending reports whether a cancelled cycle still holds paid
// participants, i.e. refund obligations not yet settled.
func refundsPending(c *models.OrderCycle) bool {
	if c.Phase != models.PhaseCancelled {
		return false
	}
	for _, p := range c.Participants {
		if p.PaymentStatus == models.PaymentPaid {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateCycle persists a new cycle document.
func (s *SQLiteStore) CreateCycle(ctx context.Context, c *models.OrderCycle) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cycle: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cycles (id, group_id, phase, version, due_at, refunds_pending, data, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?, ?)`,
		c.ID, c.GroupID, string(c.Phase), c.ActiveDeadline(), boolToInt(refundsPending(c)), string(data), c.UpdatedAt,
	)
	if err != nil {
		// The partial unique index on open cycles turns a second open cycle
		// for the same group into a constraint violation.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "constraint") {
			return fmt.Errorf("group %s already has an open cycle: %w", c.GroupID, errs.ErrConflict)
		}
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

// getCycleRow reads a cycle document and its CAS version.
func (s *SQLiteStore) getCycleRow(ctx context.Context, id string) (*models.OrderCycle, int64, error) {
	var (
		data    string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT data, version FROM cycles WHERE id = ?", id,
	).Scan(&data, &version)
	if err == sql.ErrNoRows {
		return nil, 0, fmt.Errorf("cycle %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get cycle: %w", err)
	}

	c := &models.OrderCycle{}
	if err := json.Unmarshal([]byte(data), c); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal cycle %s: %w", id, err)
	}
	return c, version, nil
}

// GetCycle retrieves a cycle by ID.
func (s *SQLiteStore) GetCycle(ctx context.Context, id string) (*models.OrderCycle, error) {
	c, _, err := s.getCycleRow(ctx, id)
	return c, err
}

// GetOpenCycleForGroup returns the group's cycle still in collecting or
// payment_window, if any.
func (s *SQLiteStore) GetOpenCycleForGroup(ctx context.Context, groupID string) (*models.OrderCycle, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM cycles WHERE group_id = ? AND phase IN ('collecting', 'payment_window')`,
		groupID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no open cycle for group %s: %w", groupID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open cycle: %w", err)
	}

	c := &models.OrderCycle{}
	if err := json.Unmarshal([]byte(data), c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cycle: %w", err)
	}
	return c, nil
}

// UpdateCycle applies fn to the current document and writes it back, with the
// read, the closure, and the write all inside one immediate transaction.
// Concurrent updates serialize on the write lock; on contention (busy
// timeout) it re-reads and re-applies fn, so the closure always computes
// against committed state. Errors returned by fn abort the update and pass
// through unchanged.
func (s *SQLiteStore) UpdateCycle(ctx context.Context, id string, fn func(*models.OrderCycle) error) (*models.OrderCycle, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		c, err := s.updateCycleOnce(ctx, id, fn)
		if retryable(err) {
			if berr := backoff(ctx, attempt); berr != nil {
				return nil, berr
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("update of cycle %s exhausted %d attempts: %w", id, maxRetries, errs.ErrPersistence)
}

func (s *SQLiteStore) updateCycleOnce(ctx context.Context, id string, fn func(*models.OrderCycle) error) (*models.OrderCycle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin cycle update: %w", err)
	}
	defer tx.Rollback()

	var (
		data    string
		version int64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT data, version FROM cycles WHERE id = ?", id,
	).Scan(&data, &version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cycle %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cycle: %w", err)
	}
	c := &models.OrderCycle{}
	if err := json.Unmarshal([]byte(data), c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cycle %s: %w", id, err)
	}

	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now().Unix()

	out, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cycle: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE cycles
		 SET phase = ?, version = version + 1, due_at = ?, refunds_pending = ?, data = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(c.Phase), c.ActiveDeadline(), boolToInt(refundsPending(c)), string(out), c.UpdatedAt,
		id, version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update cycle: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected != 1 {
		return nil, fmt.Errorf("cycle %s: %w", id, errStaleVersion)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cycle update: %w", err)
	}
	return c, nil
}

// ListDueCycleIDs returns cycles whose active deadline elapsed.
func (s *SQLiteStore) ListDueCycleIDs(ctx context.Context, now int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM cycles WHERE due_at > 0 AND due_at <= ?", now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due cycles: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListRefundPendingCycleIDs returns cancelled cycles still holding paid
// participants.
func (s *SQLiteStore) ListRefundPendingCycleIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM cycles WHERE refunds_pending = 1",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list refund-pending cycles: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ids: %w", err)
	}
	return ids, nil
}
