package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
)

// MarkEventProcessed inserts the event identity if unseen. INSERT OR IGNORE
// makes the check-and-record atomic, so two concurrent deliveries of the
// same webhook cannot both observe "first".
func (s *SQLiteStore) MarkEventProcessed(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO processed_events (key, created_at) VALUES (?, ?)",
		key, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return affected == 1, nil
}

// AppendAudit persists an immutable audit entry.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_log (id, kind, cycle_id, user_id, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		entry.ID, string(entry.Kind), entry.CycleID, entry.UserID, entry.Detail, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAuditByCycle returns the audit trail for one cycle, oldest first.
func (s *SQLiteStore) ListAuditByCycle(ctx context.Context, cycleID string) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, cycle_id, user_id, detail, created_at FROM audit_log WHERE cycle_id = ? ORDER BY created_at",
		cycleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry := &models.AuditEntry{}
		var kind string
		if err := rows.Scan(&entry.ID, &kind, &entry.CycleID, &entry.UserID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Kind = models.AuditKind(kind)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
