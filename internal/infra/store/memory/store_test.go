package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bryanwahyu/homeguard/internal/domain/sessions"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore() (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	return New(clock, 24*time.Hour), clock
}

func addImage(t *testing.T, s *Store, sessionID, imageID, parentID string) {
	t.Helper()
	err := s.AddImage(context.Background(), sessionID, &sessions.Image{
		ID:             imageID,
		SessionID:      sessionID,
		ParentImageID:  parentID,
		AnalysisStatus: sessions.StatusPending,
	})
	if err != nil {
		t.Fatalf("AddImage(%s): %v", imageID, err)
	}
}

func TestCreateIdempotent(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	first, err := s.Create(ctx, "s1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	addImage(t, s, "s1", "img1", "")

	again, err := s.Create(ctx, "s1")
	if err != nil {
		t.Fatalf("Create again: %v", err)
	}
	if !again.CreatedAt.Equal(first.CreatedAt) || len(again.Images) != 1 {
		t.Fatalf("duplicate create must return the existing session unchanged, got %+v", again)
	}
}

func TestGetEvictsExpired(t *testing.T) {
	s, clock := newStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, "s1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(25 * time.Hour)

	if _, err := s.Get(ctx, "s1"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("Get after TTL err = %v, want ErrNotFound", err)
	}
	// The expired entry was evicted: re-creating starts a fresh lifecycle.
	fresh, err := s.Create(ctx, "s1")
	if err != nil {
		t.Fatalf("Create after eviction: %v", err)
	}
	if got := fresh.CreatedAt; !got.Equal(clock.Now()) {
		t.Fatalf("expected fresh session, createdAt = %v", got)
	}
}

func TestUpdatePartial(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	if _, err := s.Create(ctx, "s1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	loc := "suburban"
	sess, err := s.Update(ctx, "s1", sessions.SessionPatch{Location: &loc})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if sess.Location != "suburban" || sess.AnalysisStatus != sessions.StatusPending {
		t.Fatalf("patch applied wrong: %+v", sess)
	}

	if _, err := s.Update(ctx, "missing", sessions.SessionPatch{Location: &loc}); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("Update missing err = %v", err)
	}
}

func TestRemoveImageCascades(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	if _, err := s.Create(ctx, "s1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	addImage(t, s, "s1", "p1", "")
	addImage(t, s, "s1", "c1", "p1")
	addImage(t, s, "s1", "c2", "p1")
	addImage(t, s, "s1", "p2", "")
	addImage(t, s, "s1", "c3", "p2")

	removed, err := s.RemoveImage(ctx, "s1", "p1")
	if err != nil {
		t.Fatalf("RemoveImage: %v", err)
	}
	if len(removed) != 3 || removed[0] != "p1" {
		t.Fatalf("removed = %v, want p1 + its two children", removed)
	}

	sess, _ := s.Get(ctx, "s1")
	if len(sess.Images) != 2 {
		t.Fatalf("images left = %d, want p2 and c3", len(sess.Images))
	}

	// Removing a child leaves its primary and siblings alone.
	removed, err = s.RemoveImage(ctx, "s1", "c3")
	if err != nil {
		t.Fatalf("RemoveImage child: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("removed = %v, want just c3", removed)
	}
	sess, _ = s.Get(ctx, "s1")
	if len(sess.Images) != 1 || sess.Images[0].ID != "p2" {
		t.Fatalf("images = %+v", sess.Images)
	}
}

func TestRelateImageValidation(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	if _, err := s.Create(ctx, "s1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	addImage(t, s, "s1", "p1", "")
	addImage(t, s, "s1", "p2", "")
	addImage(t, s, "s1", "c1", "")

	if err := s.RelateImage(ctx, "s1", "c1", "c1"); !errors.Is(err, sessions.ErrValidation) {
		t.Fatalf("self-link err = %v, want validation error", err)
	}
	if err := s.RelateImage(ctx, "s1", "c1", "ghost"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("missing parent err = %v", err)
	}
	if err := s.RelateImage(ctx, "s1", "ghost", "p1"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("missing child err = %v", err)
	}

	if err := s.RelateImage(ctx, "s1", "c1", "p1"); err != nil {
		t.Fatalf("valid relate: %v", err)
	}
	// Depth must stay at one: a child cannot become a parent, and an image
	// with children cannot become a child.
	if err := s.RelateImage(ctx, "s1", "p2", "c1"); !errors.Is(err, sessions.ErrValidation) {
		t.Fatalf("child-as-parent err = %v, want validation error", err)
	}
	addImage(t, s, "s1", "p3", "")
	if err := s.RelateImage(ctx, "s1", "p1", "p3"); !errors.Is(err, sessions.ErrValidation) {
		t.Fatalf("parent-with-children-as-child err = %v, want validation error", err)
	}

	// Failed relates leave state untouched.
	sess, _ := s.Get(ctx, "s1")
	if img := sess.FindImage("p2"); img.ParentImageID != "" {
		t.Fatalf("p2 mutated by rejected relate: %+v", img)
	}
}

func TestSweep(t *testing.T) {
	s, clock := newStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, fmt.Sprintf("old%d", i)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	clock.Advance(23 * time.Hour)
	if _, err := s.Create(ctx, "young"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(2 * time.Hour)

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 3 {
		t.Fatalf("swept %d, want 3", n)
	}
	if _, err := s.Get(ctx, "young"); err != nil {
		t.Fatalf("young session must survive the sweep: %v", err)
	}
}

func TestConcurrentAddImage(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	if _, err := s.Create(ctx, "s1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AddImage(ctx, "s1", &sessions.Image{ID: fmt.Sprintf("img%d", i), SessionID: "s1"})
		}(i)
	}
	wg.Wait()

	sess, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Images) != n {
		t.Fatalf("lost updates: %d images, want %d", len(sess.Images), n)
	}
}
