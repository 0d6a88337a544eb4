package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	domain "github.com/bryanwahyu/homeguard/internal/domain/faults"
)

type FaultRepository struct {
	db *sql.DB
}

func NewFaultRepository(db *sql.DB) *FaultRepository { return &FaultRepository{db: db} }

// Record inserts one analysis fault entry
func (r *FaultRepository) Record(ctx context.Context, f *domain.Fault) error {
	const q = `
INSERT INTO home_analysis_faults (session_id, image_id, phase, message, created_at)
VALUES ($1,$2,$3,$4,$5);`
	msg := f.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, f.SessionID, f.ImageID, f.Phase, msg, created)
	return err
}

// BySession returns the newest faults first
func (r *FaultRepository) BySession(ctx context.Context, sessionID string, limit int) ([]*domain.Fault, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, session_id, image_id, phase, message, created_at
FROM home_analysis_faults
WHERE session_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Fault{}
	for rows.Next() {
		var f domain.Fault
		if err := rows.Scan(&f.ID, &f.SessionID, &f.ImageID, &f.Phase, &f.Message, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
