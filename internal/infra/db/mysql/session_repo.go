package mysql

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

// SessionRepository implements sessions.Store on MySQL. Image-list
// mutations lock the session row (SELECT ... FOR UPDATE) so concurrent
// uploads cannot lose each other. Expiry uses the shared
// Session.Expired predicate, same as the memory store.
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
	sess := &sessions.Session{
		ID:             id,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.ttl),
		AnalysisStatus: sessions.StatusPending,
		Images:         []*sessions.Image{},
	}
	const q = `
INSERT INTO home_sessions (id, created_at, expires_at, location, analysis_status, report_json)
VALUES (?,?,?,?,?,NULL)
ON DUPLICATE KEY UPDATE id=id;`
	if _, err := r.db.ExecContext(ctx, q, sess.ID, sess.CreatedAt, sess.ExpiresAt, "", sess.AnalysisStatus); err != nil {
		return nil, err
	}
	// A concurrent create may have won the upsert; read back the row.
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
		set += "location=?, "
		args = append(args, *patch.Location)
	}
	if patch.AnalysisStatus != nil {
		set += "analysis_status=?, "
		args = append(args, string(*patch.AnalysisStatus))
	}
	if patch.Report != nil {
		b, err := json.Marshal(patch.Report)
		if err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		set += "report_json=?, "
		args = append(args, string(b))
	}
	if set != "" {
		q := "UPDATE home_sessions SET " + set[:len(set)-2] + " WHERE id=?"
		args = append(args, id)
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
		// position computed under the session lock, so appends serialize
		var pos int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position)+1,0) FROM home_session_images WHERE session_id=?`,
			sessionID).Scan(&pos); err != nil {
			return err
		}
		const q = `
INSERT INTO home_session_images
  (id, session_id, parent_image_id, original_filename, storage_path, thumb_path,
   original_url, thumb_url, uploaded_at, analysis_status, analysis_json, last_error, position)
VALUES (?,?,?,?,?,?,?,?,?,?,NULL,'',?);`
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
		set := ""
		var args []any
		if patch.AnalysisStatus != nil {
			set += "analysis_status=?, "
			args = append(args, string(*patch.AnalysisStatus))
		}
		if patch.Analysis != nil {
			b, err := json.Marshal(patch.Analysis)
			if err != nil {
				return fmt.Errorf("marshal analysis: %w", err)
			}
			set += "analysis_json=?, "
			args = append(args, string(b))
		}
		if patch.LastError != nil {
			set += "last_error=?, "
			args = append(args, *patch.LastError)
		}
		if set != "" {
			q := "UPDATE home_session_images SET " + set[:len(set)-2] + " WHERE session_id=? AND id=?"
			args = append(args, sessionID, imageID)
			res, err := tx.ExecContext(ctx, q, args...)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				// distinguish "no change" from "no row"
				if !r.imageExists(ctx, tx, sessionID, imageID) {
					return sessions.ErrNotFound
				}
			}
		} else if !r.imageExists(ctx, tx, sessionID, imageID) {
			return sessions.ErrNotFound
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
		if !r.imageExists(ctx, tx, sessionID, imageID) {
			return sessions.ErrNotFound
		}
		removed = []string{imageID}
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM home_session_images WHERE session_id=? AND parent_image_id=? ORDER BY position`,
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
		// single cascade pass, nesting depth is one
		_, err = tx.ExecContext(ctx,
			`DELETE FROM home_session_images WHERE session_id=? AND (id=? OR parent_image_id=?)`,
			sessionID, imageID, imageID)
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
			`SELECT COUNT(*) FROM home_session_images WHERE session_id=? AND parent_image_id=?`,
			sessionID, child.ID).Scan(&children); err != nil {
			return err
		}
		if children > 0 {
			return sessions.Validationf("image %s already has related images", imageID)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE home_session_images SET parent_image_id=? WHERE session_id=? AND id=?`,
			parentID, sessionID, imageID)
		return err
	})
}

func (r *SessionRepository) Sweep(ctx context.Context) (int, error) {
	now := r.clock.Now()
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM home_sessions WHERE expires_at < ?`, now)
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

//
// ==== helpers ====
//

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withSessionLock runs fn in a transaction with the session row locked,
// failing with ErrNotFound for missing or expired sessions.
func (r *SessionRepository) withSessionLock(ctx context.Context, sessionID string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var expiresAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT expires_at FROM home_sessions WHERE id=? FOR UPDATE`, sessionID,
	).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return sessions.ErrNotFound
	}
	if err != nil {
		return err
	}
	if expiresAt.Valid && r.clock.Now().After(expiresAt.Time) {
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
FROM home_sessions WHERE id=? LIMIT 1;`
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
FROM home_session_images WHERE session_id=? ORDER BY position;`
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
FROM home_session_images WHERE session_id=? AND id=? LIMIT 1;`
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

func (r *SessionRepository) imageExists(ctx context.Context, q querier, sessionID, imageID string) bool {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM home_session_images WHERE session_id=? AND id=? LIMIT 1`,
		sessionID, imageID).Scan(&one)
	return err == nil
}

func (r *SessionRepository) evict(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM home_session_images WHERE session_id=?`, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM home_sessions WHERE id=?`, id)
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
