package faults

import "context"

// Recorder port for persisting and querying analysis faults
type Recorder interface {
	Record(ctx context.Context, f *Fault) error
	BySession(ctx context.Context, sessionID string, limit int) ([]*Fault, error)
}
