package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bryanwahyu/homeguard/internal/application"
	"github.com/bryanwahyu/homeguard/internal/domain/sessions"
)

// Store keeps all session state in process memory behind one mutex. Every
// operation is a single short critical section; callers get defensive
// clones, so no session pointer escapes the lock.
type Store struct {
	mu   sync.Mutex
	data map[string]*sessions.Session

	clock application.Clock
	ttl   time.Duration
}

func New(clock application.Clock, ttl time.Duration) *Store {
	return &Store{
		data:  make(map[string]*sessions.Session),
		clock: clock,
		ttl:   ttl,
	}
}

// live returns the stored session, evicting it first when expired.
// Callers must hold s.mu.
func (s *Store) live(id string) *sessions.Session {
	sess, ok := s.data[id]
	if !ok {
		return nil
	}
	if sess.Expired(s.clock.Now()) {
		delete(s.data, id)
		return nil
	}
	return sess
}

func (s *Store) Create(_ context.Context, id string) (*sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.live(id); existing != nil {
		return existing.Clone(), nil
	}
	now := s.clock.Now()
	sess := &sessions.Session{
		ID:             id,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
		AnalysisStatus: sessions.StatusPending,
		Images:         []*sessions.Image{},
	}
	s.data[id] = sess
	return sess.Clone(), nil
}

func (s *Store) Get(_ context.Context, id string) (*sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(id)
	if sess == nil {
		return nil, sessions.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) Update(_ context.Context, id string, patch sessions.SessionPatch) (*sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(id)
	if sess == nil {
		return nil, sessions.ErrNotFound
	}
	if patch.Location != nil {
		sess.Location = *patch.Location
	}
	if patch.AnalysisStatus != nil {
		sess.AnalysisStatus = *patch.AnalysisStatus
	}
	if patch.Report != nil {
		sess.Report = patch.Report
	}
	return sess.Clone(), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(id) == nil {
		return sessions.ErrNotFound
	}
	delete(s.data, id)
	return nil
}

func (s *Store) AddImage(_ context.Context, sessionID string, img *sessions.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(sessionID)
	if sess == nil {
		return sessions.ErrNotFound
	}
	cp := *img
	sess.Images = append(sess.Images, &cp)
	return nil
}

func (s *Store) UpdateImage(_ context.Context, sessionID, imageID string, patch sessions.ImagePatch) (*sessions.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(sessionID)
	if sess == nil {
		return nil, sessions.ErrNotFound
	}
	img := sess.FindImage(imageID)
	if img == nil {
		return nil, sessions.ErrNotFound
	}
	if patch.AnalysisStatus != nil {
		img.AnalysisStatus = *patch.AnalysisStatus
	}
	if patch.Analysis != nil {
		img.Analysis = patch.Analysis
	}
	if patch.LastError != nil {
		img.LastError = *patch.LastError
	}
	cp := *img
	return &cp, nil
}

func (s *Store) RemoveImage(_ context.Context, sessionID, imageID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(sessionID)
	if sess == nil {
		return nil, sessions.ErrNotFound
	}
	if sess.FindImage(imageID) == nil {
		return nil, sessions.ErrNotFound
	}

	// One cascade pass: nesting is a single level, so children of the
	// removed image cannot have children of their own.
	removed := []string{imageID}
	kept := sess.Images[:0]
	for _, img := range sess.Images {
		switch {
		case img.ID == imageID:
		case img.ParentImageID == imageID:
			removed = append(removed, img.ID)
		default:
			kept = append(kept, img)
		}
	}
	sess.Images = kept
	return removed, nil
}

func (s *Store) RelateImage(_ context.Context, sessionID, imageID, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(sessionID)
	if sess == nil {
		return sessions.ErrNotFound
	}
	child := sess.FindImage(imageID)
	if child == nil {
		return sessions.ErrNotFound
	}
	if imageID == parentID {
		return sessions.Validationf("image cannot be related to itself")
	}
	parent := sess.FindImage(parentID)
	if parent == nil {
		return sessions.ErrNotFound
	}
	if parent.ParentImageID != "" {
		return sessions.Validationf("parent %s is itself a related image", parentID)
	}
	for _, img := range sess.Images {
		if img.ParentImageID == imageID {
			return sessions.Validationf("image %s already has related images", imageID)
		}
	}
	child.ParentImageID = parentID
	return nil
}

func (s *Store) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	n := 0
	for id, sess := range s.data {
		if sess.Expired(now) {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}
