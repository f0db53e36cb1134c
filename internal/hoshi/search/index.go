// Package search provides semantic search over a user's notes. Notes are
// embedded on write and stored in a vector database keyed by user and slug.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bdobrica/Hoshi/internal/hoshi/memory"
)

const (
	DefaultLimit  = 5
	maxEmbedChars = 8000
	snippetChars  = 160

	payloadUser  = "user_id"
	payloadSlug  = "slug"
	payloadTitle = "title"
	payloadText  = "content"
)

// ErrEmptyQuery is returned by Search for a blank query.
var ErrEmptyQuery = errors.New("search: empty query")

// pointNamespace scopes deterministic point IDs so re-indexing a note
// replaces its previous vector.
var pointNamespace = uuid.MustParse("8f0d6c3e-4b7a-5e21-9c1d-2a6b3f4e5d70")

// Hit is one search result.
type Hit struct {
	Slug    string
	Title   string
	Snippet string
	Score   float32
}

// Index implements memory.NoteIndexer and answers similarity queries.
type Index struct {
	embedder Embedder
	store    VectorStore
}

// NewIndex returns an index writing to store.
func NewIndex(embedder Embedder, store VectorStore) *Index {
	return &Index{embedder: embedder, store: store}
}

// Init prepares the backing collection.
func (x *Index) Init(ctx context.Context) error {
	return x.store.EnsureCollection(ctx, x.embedder.Dimensions())
}

// Close releases the vector store connection.
func (x *Index) Close() error {
	return x.store.Close()
}

// PointID returns the stable vector ID for a user's note.
func PointID(userID, slug string) string {
	return uuid.NewSHA1(pointNamespace, []byte(userID+"/"+slug)).String()
}

func (x *Index) IndexNote(ctx context.Context, userID string, note memory.Note) error {
	text := truncateRunes(note.Title+"\n\n"+note.Content, maxEmbedChars)
	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("search: index note %q: %w", note.Slug, err)
	}
	return x.store.Upsert(ctx, Point{
		ID:     PointID(userID, note.Slug),
		Vector: vec,
		Payload: map[string]string{
			payloadUser:  userID,
			payloadSlug:  note.Slug,
			payloadTitle: note.Title,
			payloadText:  truncateRunes(note.Content, maxEmbedChars),
		},
	})
}

func (x *Index) DeleteNote(ctx context.Context, userID, slug string) error {
	return x.store.Delete(ctx, PointID(userID, slug))
}

// Search returns the user's notes most similar to query. Results never
// cross users.
func (x *Index) Search(ctx context.Context, userID, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	points, err := x.store.Query(ctx, vec, payloadUser, userID, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		if p.Payload[payloadUser] != userID {
			continue
		}
		hits = append(hits, Hit{
			Slug:    p.Payload[payloadSlug],
			Title:   p.Payload[payloadTitle],
			Snippet: snippet(p.Payload[payloadText]),
			Score:   p.Score,
		})
	}
	return hits, nil
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= snippetChars {
		return s
	}
	return truncateRunes(s, snippetChars) + "…"
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

var _ memory.NoteIndexer = (*Index)(nil)
