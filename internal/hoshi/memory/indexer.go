package memory

import "context"

// NoteIndexer receives note changes so a secondary index (for semantic
// search) can follow the filesystem. Failures never fail the write.
type NoteIndexer interface {
	IndexNote(ctx context.Context, userID string, note Note) error
	DeleteNote(ctx context.Context, userID, slug string) error
}
