package store

import (
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// Neighbor is one nearest-neighbor hit. Distance is cosine distance, zero
// for identical direction, growing as vectors diverge.
type Neighbor struct {
	ID         string
	Path       string
	Title      string
	Category   vault.Category
	FolderName string
	Distance   float64
}

// KNN returns the k nearest indexed notes to the query vector. Ties at
// equal distance go to the more recently updated note. Notes without a
// stored vector never appear.
func (s *Store) KNN(embedding []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(embedding) != s.dims {
		return nil, fault.Newf(fault.KindIntegrity, "query vector has %d values, index stores %d", len(embedding), s.dims)
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fault.Wrap(fault.KindData, err, "serialize query vector")
	}

	rows, err := s.conn.Query(`
		SELECT n.id, n.path, n.title, n.category, n.folder_name, v.distance
		FROM notes_vec v
		JOIN notes n ON n.seq = v.note_seq
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance, n.last_updated DESC`,
		blob, k,
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "knn query")
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var nb Neighbor
		var category string
		if err := rows.Scan(&nb.ID, &nb.Path, &nb.Title, &category, &nb.FolderName, &nb.Distance); err != nil {
			return nil, fault.Wrap(fault.KindIntegrity, err, "scan neighbor")
		}
		nb.Category, _ = vault.ParseCategory(category)
		neighbors = append(neighbors, nb)
	}
	return neighbors, rows.Err()
}

// CategoryOfNeighbors buckets the k nearest notes by category. The caller
// divides by k to turn counts into semantic scores.
func (s *Store) CategoryOfNeighbors(embedding []float32, k int) (map[vault.Category]int, error) {
	neighbors, err := s.KNN(embedding, k)
	if err != nil {
		return nil, err
	}
	counts := make(map[vault.Category]int, len(neighbors))
	for _, nb := range neighbors {
		counts[nb.Category]++
	}
	return counts, nil
}

// VectorCount returns how many indexed notes have a stored vector.
func (s *Store) VectorCount() (int, error) {
	var n int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM notes_vec").Scan(&n); err != nil {
		return 0, fault.Wrap(fault.KindIntegrity, err, "count vectors")
	}
	return n, nil
}
