package store

import (
	"database/sql"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/parakeet-labs/parakeet/internal/fault"
)

// CachedEmbedding returns the cached vector for a content hash and model,
// or nil on a miss. Reindexing after edits only pays for changed notes.
func (s *Store) CachedEmbedding(contentHash, model string) ([]float32, error) {
	var blob []byte
	err := s.conn.QueryRow(
		"SELECT embedding FROM embed_cache WHERE content_hash = ? AND model = ?",
		contentHash, model,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "read embedding cache")
	}
	return deserializeFloat32(blob)
}

// PutCachedEmbedding stores a vector keyed by content hash and model.
func (s *Store) PutCachedEmbedding(contentHash, model string, embedding []float32) error {
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fault.Wrap(fault.KindData, err, "serialize cached embedding")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.conn.Exec(`
		INSERT INTO embed_cache (content_hash, model, embedding, at) VALUES (?, ?, ?, ?)
		ON CONFLICT(content_hash, model) DO UPDATE SET embedding = excluded.embedding, at = excluded.at`,
		contentHash, model, blob, time.Now().Unix(),
	)
	if err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "write embedding cache")
	}
	return nil
}
