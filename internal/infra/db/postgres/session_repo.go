package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bryanwahyu/homeguard/internal/application"
	"github.com/bryanwahyu/homeguard/internal/domain/assessment"
	"github.com/bryanwahyu/homeguard/internal/domain/sessions"
)

// SessionRepository implements sessions.Store on Postgres. Same contract
// and expiry predicate as the MySQL and memory stores; only the SQL
// dialect differs.
type SessionRepository struct {
	db    *sql.DB
	clock application.Clock
	ttl   time.Duration
}

func NewSessionRepository(db *sql.DB, clock application.Clock, ttl time.Duration) *SessionRepository {
	return &SessionRepository{db: db, clock: clock, ttl: ttl}
}

func (r *SessionRepository) Create(ctx context.Context, id string) (*sessions.Session, error) {
	if existing, err := r.Get(ctx, id); err == nil {
		return existing, nil
	} else if err != sessions.ErrNotFound {
		return nil, err
	}

	now := r.clock.Now()
	const q = `
INSERT INTO home_sessions (id, created_at, expires_at, location, analysis_status, report_json)
VALUES ($1,$2,$3,$4,$5,NULL)
ON CONFLICT (id) DO NOTHING;`
	if _, err := r.db.ExecContext(ctx, q, id, now, now.Add(r.ttl), "", sessions.StatusPending); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*sessions.Session, error) {
	sess, err := r.load(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	if sess.Expired(r.clock.Now()) {
		_ = r.evict(ctx, id)
		return nil, sessions.ErrNotFound
	}
	return sess, nil
}

func (r *SessionRepository) Update(ctx context.Context, id string, patch sessions.SessionPatch) (*sessions.Session, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	set := ""
	var args []any
	if patch.Location != nil {
		args = append(args, *patch.Location)
		set += fmt.Sprintf("location=$%d, ", len(args))
	}
	if patch.AnalysisStatus != nil {
		args = append(args, string(*patch.AnalysisStatus))
		set += fmt.Sprintf("analysis_status=$%d, ", len(args))
	}
	if patch.Report != nil {
		b, err := json.Marshal(patch.Report)
		if err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		args = append(args, string(b))
		set += fmt.Sprintf("report_json=$%d, ", len(args))
	}
	if set != "" {
		args = append(args, id)
		q := fmt.Sprintf("UPDATE home_sessions SET %s WHERE id=$%d", set[:len(set)-2], len(args))
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			return nil, err
		}
	}
	return r.Get(ctx, id)
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return r.evict(ctx, id)
}

func (r *SessionRepository) AddImage(ctx context.Context, sessionID string, img *sessions.Image) error {
	return r.withSessionLock(ctx, sessionID, func(tx *sql.Tx) error {
		var pos int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position)+1,0) FROM home_session_images WHERE session_id=$1`,
			sessionID).Scan(&pos); err != nil {
			return err
		}
		const q = `
INSERT INTO home_session_images
  (id, session_id, parent_image_id, original_filename, storage_path, thumb_path,
   original_url, thumb_url, uploaded_at, analysis_status, analysis_json, last_error, position)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,'',$11);`
		_, err := tx.ExecContext(ctx, q,
			img.ID, sessionID, img.ParentImageID, img.OriginalFilename,
			img.StoragePath, img.ThumbnailPath, img.OriginalURL, img.ThumbnailURL,
			img.UploadedAt, string(img.AnalysisStatus), pos,
		)
		return err
	})
}

func (r *SessionRepository) UpdateImage(ctx context.Context, sessionID, imageID string, patch sessions.ImagePatch) (*sessions.Image, error) {
	var out *sessions.Image
	err := r.withSessionLock(ctx, sessionID, func(tx *sql.Tx) error {
		if _, err := r.loadImage(ctx, tx, sessionID, imageID); err != nil {
			return err
		}
		set := ""
		var args []any
		if patch.AnalysisStatus != nil {
			args = append(args, string(*patch.AnalysisStatus))
			set += fmt.Sprintf("analysis_status=$%d, ", len(args))
		}
		if patch.Analysis != nil {
			b, err := json.Marshal(patch.Analysis)
			if err != nil {
				return fmt.Errorf("marshal analysis: %w", err)
			}
			args = append(args, string(b))
			set += fmt.Sprintf("analysis_json=$%d, ", len(args))
		}
		if patch.LastError != nil {
			args = append(args, *patch.LastError)
			set += fmt.Sprintf("last_error=$%d, ", len(args))
		}
		if set != "" {
			args = append(args, sessionID, imageID)
			q := fmt.Sprintf("UPDATE home_session_images SET %s WHERE session_id=$%d AND id=$%d",
				set[:len(set)-2], len(args)-1, len(args))
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return err
			}
		}
		img, err := r.loadImage(ctx, tx, sessionID, imageID)
		out = img
		return err
	})
	return out, err
}

func (r *SessionRepository) RemoveImage(ctx context.Context, sessionID, imageID string) ([]string, error) {
	var removed []string
	err := r.withSessionLock(ctx, sessionID, func(tx *sql.Tx) error {
		if _, err := r.loadImage(ctx, tx, sessionID, imageID); err != nil {
			return err
		}
		removed = []string{imageID}
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM home_session_images WHERE session_id=$1 AND parent_image_id=$2 ORDER BY position`,
			sessionID, imageID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			removed = append(removed, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM home_session_images WHERE session_id=$1 AND (id=$2 OR parent_image_id=$2)`,
			sessionID, imageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *SessionRepository) RelateImage(ctx context.Context, sessionID, imageID, parentID string) error {
	return r.withSessionLock(ctx, sessionID, func(tx *sql.Tx) error {
		child, err := r.loadImage(ctx, tx, sessionID, imageID)
		if err != nil {
			return err
		}
		if imageID == parentID {
			return sessions.Validationf("image cannot be related to itself")
		}
		parent, err := r.loadImage(ctx, tx, sessionID, parentID)
		if err != nil {
			return err
		}
		if parent.ParentImageID != "" {
			return sessions.Validationf("parent %s is itself a related image", parentID)
		}
		var children int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM home_session_images WHERE session_id=$1 AND parent_image_id=$2`,
			sessionID, child.ID).Scan(&children); err != nil {
			return err
		}
		if children > 0 {
			return sessions.Validationf("image %s already has related images", imageID)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE home_session_images SET parent_image_id=$1 WHERE session_id=$2 AND id=$3`,
			parentID, sessionID, imageID)
		return err
	})
}

func (r *SessionRepository) Sweep(ctx context.Context) (int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM home_sessions WHERE expires_at < $1`, r.clock.Now())
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, id := range expired {
		if err := r.evict(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SessionRepository) withSessionLock(ctx context.Context, sessionID string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT expires_at FROM home_sessions WHERE id=$1 FOR UPDATE`, sessionID,
	).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return sessions.ErrNotFound
	}
	if err != nil {
		return err
	}
	if r.clock.Now().After(expiresAt) {
		return sessions.ErrNotFound
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SessionRepository) load(ctx context.Context, q querier, id string) (*sessions.Session, error) {
	const sq = `
SELECT id, created_at, expires_at, location, analysis_status, report_json
FROM home_sessions WHERE id=$1 LIMIT 1;`
	row := q.QueryRowContext(ctx, sq, id)

	var s sessions.Session
	var reportJSON sql.NullString
	if err := row.Scan(&s.ID, &s.CreatedAt, &s.ExpiresAt, &s.Location, &s.AnalysisStatus, &reportJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, sessions.ErrNotFound
		}
		return nil, err
	}
	if reportJSON.Valid && reportJSON.String != "" {
		var rep assessment.SecurityReport
		if err := json.Unmarshal([]byte(reportJSON.String), &rep); err == nil {
			s.Report = &rep
		}
	}

	const iq = `
SELECT id, session_id, parent_image_id, original_filename, storage_path, thumb_path,
       original_url, thumb_url, uploaded_at, analysis_status, analysis_json, last_error
FROM home_session_images WHERE session_id=$1 ORDER BY position;`
	rows, err := q.QueryContext(ctx, iq, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s.Images = []*sessions.Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		s.Images = append(s.Images, img)
	}
	return &s, rows.Err()
}

func (r *SessionRepository) loadImage(ctx context.Context, q querier, sessionID, imageID string) (*sessions.Image, error) {
	const iq = `
SELECT id, session_id, parent_image_id, original_filename, storage_path, thumb_path,
       original_url, thumb_url, uploaded_at, analysis_status, analysis_json, last_error
FROM home_session_images WHERE session_id=$1 AND id=$2 LIMIT 1;`
	rows, err := q.QueryContext(ctx, iq, sessionID, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sessions.ErrNotFound
	}
	return scanImage(rows)
}

func (r *SessionRepository) evict(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM home_session_images WHERE session_id=$1`, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM home_sessions WHERE id=$1`, id)
	return err
}

func scanImage(rows *sql.Rows) (*sessions.Image, error) {
	var img sessions.Image
	var analysisJSON sql.NullString
	if err := rows.Scan(
		&img.ID, &img.SessionID, &img.ParentImageID, &img.OriginalFilename,
		&img.StoragePath, &img.ThumbnailPath, &img.OriginalURL, &img.ThumbnailURL,
		&img.UploadedAt, &img.AnalysisStatus, &analysisJSON, &img.LastError,
	); err != nil {
		return nil, err
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		var a assessment.ImageAnalysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &a); err == nil {
			img.Analysis = &a
		}
	}
	return &img, nil
}
