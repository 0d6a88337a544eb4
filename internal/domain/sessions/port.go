package sessions

import "context"

// Store port (interface for session persistence). Implementations must be
// safe for concurrent use; image-list mutations are read-modify-write under
// one critical section so concurrent uploads cannot lose each other.
//
// Expiry is lazy on every read plus a periodic Sweep; both paths share the
// Session.Expired predicate.
type Store interface {
	// Create is idempotent: an existing id returns the stored session
	// unchanged.
	Create(ctx context.Context, id string) (*Session, error)

	// Get returns ErrNotFound for a missing or expired id and evicts
	// the expired entry.
	Get(ctx context.Context, id string) (*Session, error)

	Update(ctx context.Context, id string, patch SessionPatch) (*Session, error)
	Delete(ctx context.Context, id string) error

	AddImage(ctx context.Context, sessionID string, img *Image) error
	UpdateImage(ctx context.Context, sessionID, imageID string, patch ImagePatch) (*Image, error)

	// RemoveImage also removes every image whose ParentImageID equals the
	// removed id (single cascade pass; nesting is one level). Returns the
	// ids actually removed, the requested one first.
	RemoveImage(ctx context.Context, sessionID, imageID string) ([]string, error)

	// RelateImage links imageID under parentID. Self-links, parents that
	// are themselves children, and children that already have children are
	// rejected with a ValidationError.
	RelateImage(ctx context.Context, sessionID, imageID, parentID string) error

	// Sweep evicts every expired session and reports how many went.
	Sweep(ctx context.Context) (int, error)
}
