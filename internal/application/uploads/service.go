package uploads

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bryanwahyu/homeguard/internal/application"
	"github.com/bryanwahyu/homeguard/internal/domain/sessions"
	"github.com/bryanwahyu/homeguard/internal/domain/storage"
)

// allowed content types and their canonical extensions
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/heic": ".heic",
	"image/heif": ".heic",
}

// Service validates and stores uploaded photos. Thumbnail generation is an
// external collaborator: the thumb key is seeded with the original bytes and
// a resizer overwrites it out of band.
type Service struct {
	Store   sessions.Store
	Objects storage.ObjectStore
	Clock   application.Clock

	MaxImages int
	MaxBytes  int64
}

type UploadCommand struct {
	SessionID     string
	ParentImageID string
	Filename      string
	Data          []byte
}

type UploadResult struct {
	ImageID      string `json:"imageId"`
	OriginalURL  string `json:"originalUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

func (s *Service) Upload(ctx context.Context, cmd UploadCommand) (*UploadResult, error) {
	if len(cmd.Data) == 0 {
		return nil, sessions.Validationf("uploaded file is empty")
	}
	if s.MaxBytes > 0 && int64(len(cmd.Data)) > s.MaxBytes {
		return nil, sessions.Validationf("file exceeds the %d byte limit", s.MaxBytes)
	}
	contentType, ext, ok := detectType(cmd.Filename, cmd.Data)
	if !ok {
		return nil, sessions.Validationf("unsupported file type (jpeg, png, heic only)")
	}

	sess, err := s.Store.Get(ctx, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if s.MaxImages > 0 && len(sess.Images) >= s.MaxImages {
		return nil, sessions.Validationf("session already holds the maximum of %d images", s.MaxImages)
	}
	// Nesting stays at depth 1: linking under an image that is itself a
	// child would break the single-pass removal cascade. A parent id that
	// matches nothing is left alone; grouping shows those as their own area.
	if cmd.ParentImageID != "" {
		if parent := sess.FindImage(cmd.ParentImageID); parent != nil && parent.ParentImageID != "" {
			return nil, sessions.Validationf("parent %s is itself a related image", cmd.ParentImageID)
		}
	}

	id := uuid.New().String()
	key := fmt.Sprintf("sessions/%s/originals/%s%s", cmd.SessionID, id, ext)
	thumbKey := fmt.Sprintf("sessions/%s/thumbs/%s%s", cmd.SessionID, id, ext)

	url, err := s.Objects.Put(ctx, key, contentType, cmd.Data)
	if err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}
	thumbURL, err := s.Objects.Put(ctx, thumbKey, contentType, cmd.Data)
	if err != nil {
		return nil, fmt.Errorf("store thumbnail: %w", err)
	}

	img := &sessions.Image{
		ID:               id,
		SessionID:        cmd.SessionID,
		ParentImageID:    cmd.ParentImageID,
		OriginalFilename: cmd.Filename,
		StoragePath:      key,
		ThumbnailPath:    thumbKey,
		OriginalURL:      url,
		ThumbnailURL:     thumbURL,
		UploadedAt:       s.Clock.Now(),
		AnalysisStatus:   sessions.StatusPending,
	}
	if err := s.Store.AddImage(ctx, cmd.SessionID, img); err != nil {
		return nil, err
	}
	return &UploadResult{ImageID: id, OriginalURL: url, ThumbnailURL: thumbURL}, nil
}

// Remove deletes the image plus its cascade and best-effort removes the
// stored objects of everything that went.
func (s *Service) Remove(ctx context.Context, sessionID, imageID string) ([]string, error) {
	sess, err := s.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	removed, err := s.Store.RemoveImage(ctx, sessionID, imageID)
	if err != nil {
		return nil, err
	}
	for _, id := range removed {
		s.removeObjects(ctx, sess.FindImage(id))
	}
	return removed, nil
}

// DeleteSession drops the session and best-effort removes every stored file.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := s.Store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, sessionID); err != nil {
		return err
	}
	for _, img := range sess.Images {
		s.removeObjects(ctx, img)
	}
	return nil
}

func (s *Service) removeObjects(ctx context.Context, img *sessions.Image) {
	if img == nil {
		return
	}
	for _, key := range []string{img.StoragePath, img.ThumbnailPath} {
		if key == "" {
			continue
		}
		if err := s.Objects.Remove(ctx, key); err != nil {
			log.Printf("object remove failed: key=%s err=%v", key, err)
		}
	}
}

// detectType sniffs the payload; HEIC is not sniffable with the stdlib, so
// the extension decides for it.
func detectType(filename string, data []byte) (contentType, ext string, ok bool) {
	sniffed := http.DetectContentType(data)
	if e, found := allowedTypes[sniffed]; found {
		return sniffed, e, true
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".heic", ".heif":
		return "image/heic", ".heic", true
	}
	return "", "", false
}
