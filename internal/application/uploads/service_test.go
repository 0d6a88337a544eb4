package uploads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bryanwahyu/homeguard/internal/domain/sessions"
	"github.com/bryanwahyu/homeguard/internal/infra/store/memory"
)

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 64)...)
var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 64)...)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	f.data[key] = data
	return "http://objects/" + key, nil
}

func (f *fakeObjects) Fetch(_ context.Context, key string) ([]byte, string, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, "", errors.New("no such object")
	}
	return data, "image/png", nil
}

func (f *fakeObjects) Remove(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func newService(t *testing.T) (*Service, *fakeObjects) {
	t.Helper()
	clock := fixedClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.New(clock, 24*time.Hour)
	if _, err := store.Create(context.Background(), "s1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	objects := &fakeObjects{data: map[string][]byte{}}
	return &Service{
		Store:     store,
		Objects:   objects,
		Clock:     clock,
		MaxImages: 3,
		MaxBytes:  10 << 20,
	}, objects
}

func TestUploadStoresImage(t *testing.T) {
	svc, objects := newService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadCommand{SessionID: "s1", Filename: "door.png", Data: pngBytes})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.ImageID == "" || res.OriginalURL == "" || res.ThumbnailURL == "" {
		t.Fatalf("result = %+v", res)
	}
	if len(objects.data) != 2 {
		t.Fatalf("stored objects = %d, want original + thumb seed", len(objects.data))
	}

	sess, _ := svc.Store.Get(ctx, "s1")
	if len(sess.Images) != 1 {
		t.Fatalf("images = %d", len(sess.Images))
	}
	img := sess.Images[0]
	if img.AnalysisStatus != sessions.StatusPending || img.OriginalFilename != "door.png" {
		t.Fatalf("image = %+v", img)
	}
}

func TestUploadHEICByExtension(t *testing.T) {
	svc, _ := newService(t)
	// HEIC payloads are opaque to stdlib sniffing; the extension decides.
	_, err := svc.Upload(context.Background(), UploadCommand{
		SessionID: "s1", Filename: "porch.HEIC", Data: []byte("ftypheic-opaque-payload"),
	})
	if err != nil {
		t.Fatalf("Upload heic: %v", err)
	}
}

func TestUploadRejectsBadType(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Upload(context.Background(), UploadCommand{
		SessionID: "s1", Filename: "notes.txt", Data: []byte("plain text, definitely not a photo"),
	})
	if !errors.Is(err, sessions.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestUploadRejectsOversize(t *testing.T) {
	svc, _ := newService(t)
	svc.MaxBytes = 32
	_, err := svc.Upload(context.Background(), UploadCommand{SessionID: "s1", Filename: "big.png", Data: pngBytes})
	if !errors.Is(err, sessions.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestUploadRejectsPastImageCap(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Upload(ctx, UploadCommand{SessionID: "s1", Filename: "a.jpg", Data: jpegBytes}); err != nil {
			t.Fatalf("Upload %d: %v", i, err)
		}
	}
	if _, err := svc.Upload(ctx, UploadCommand{SessionID: "s1", Filename: "a.jpg", Data: jpegBytes}); !errors.Is(err, sessions.ErrValidation) {
		t.Fatalf("err = %v, want cap rejection", err)
	}
	sess, _ := svc.Store.Get(ctx, "s1")
	if len(sess.Images) != 3 {
		t.Fatalf("rejected upload mutated the session: %d images", len(sess.Images))
	}
}

func TestUploadUnknownSession(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Upload(context.Background(), UploadCommand{SessionID: "ghost", Filename: "a.png", Data: pngBytes})
	if !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUploadRejectsChildParent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	primary, err := svc.Upload(ctx, UploadCommand{SessionID: "s1", Filename: "door.png", Data: pngBytes})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	child, err := svc.Upload(ctx, UploadCommand{SessionID: "s1", Filename: "lock.png", Data: pngBytes, ParentImageID: primary.ImageID})
	if err != nil {
		t.Fatalf("Upload child: %v", err)
	}

	// linking under the child would nest two levels deep
	_, err = svc.Upload(ctx, UploadCommand{SessionID: "s1", Filename: "bolt.png", Data: pngBytes, ParentImageID: child.ImageID})
	if !errors.Is(err, sessions.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	// a parent id that matches nothing stays allowed
	if _, err := svc.Upload(ctx, UploadCommand{SessionID: "s1", Filename: "gate.png", Data: pngBytes, ParentImageID: "gone"}); err != nil {
		t.Fatalf("orphan upload: %v", err)
	}

	// removing the primary takes exactly the pair with it
	removed, err := svc.Remove(ctx, "s1", primary.ImageID)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want primary + child only", removed)
	}
}

func TestRemoveCascadesObjects(t *testing.T) {
	svc, objects := newService(t)
	ctx := context.Background()

	parent, err := svc.Upload(ctx, UploadCommand{SessionID: "s1", Filename: "door.png", Data: pngBytes})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	child, err := svc.Upload(ctx, UploadCommand{SessionID: "s1", Filename: "lock.png", Data: pngBytes, ParentImageID: parent.ImageID})
	if err != nil {
		t.Fatalf("Upload child: %v", err)
	}

	removed, err := svc.Remove(ctx, "s1", parent.ImageID)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(removed) != 2 || removed[0] != parent.ImageID || removed[1] != child.ImageID {
		t.Fatalf("removed = %v", removed)
	}
	if len(objects.data) != 0 {
		t.Fatalf("stored objects left behind: %v", objects.data)
	}
}

func TestDeleteSessionRemovesObjects(t *testing.T) {
	svc, objects := newService(t)
	ctx := context.Background()
	if _, err := svc.Upload(ctx, UploadCommand{SessionID: "s1", Filename: "door.png", Data: pngBytes}); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := svc.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := svc.Store.Get(ctx, "s1"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("session still present: %v", err)
	}
	if len(objects.data) != 0 {
		t.Fatalf("stored objects left behind: %v", objects.data)
	}
}
