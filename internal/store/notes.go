package store

import (
	"database/sql"
	"encoding/json"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// Note is one indexed vault note. ID is the vault-relative path at index
// time; Path duplicates it for callers that rekey notes after moves.
type Note struct {
	ID          string
	Path        string
	Title       string
	Category    vault.Category
	FolderName  string
	ContentHash string
	WordCount   int
	Tags        []string
	FirstSeen   time.Time
	LastUpdated time.Time
	NeedsEmbed  bool
}

const noteColumns = `id, path, title, category, folder_name, content_hash,
	word_count, tags, first_seen, last_updated, needs_embed`

// Upsert inserts or updates a note row and its embedding in one
// transaction. first_seen survives updates. A nil embedding marks the row
// needs_embed and removes any stale vector, so the index never serves a
// vector older than the content it claims to describe.
func (s *Store) Upsert(note Note, embedding []float32) error {
	if embedding != nil && len(embedding) != s.dims {
		return fault.Newf(fault.KindIntegrity, "embedding has %d values, index stores %d", len(embedding), s.dims)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "begin upsert")
	}
	defer tx.Rollback()

	tags, err := json.Marshal(note.Tags)
	if err != nil {
		return fault.Wrapf(fault.KindData, err, "encode tags for %s", note.ID)
	}

	now := time.Now().Unix()
	firstSeen := now
	if !note.FirstSeen.IsZero() {
		firstSeen = note.FirstSeen.Unix()
	}
	lastUpdated := now
	if !note.LastUpdated.IsZero() {
		lastUpdated = note.LastUpdated.Unix()
	}
	needsEmbed := 0
	if embedding == nil {
		needsEmbed = 1
	}

	_, err = tx.Exec(`
		INSERT INTO notes (id, path, title, category, folder_name, content_hash,
			word_count, tags, first_seen, last_updated, needs_embed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			title = excluded.title,
			category = excluded.category,
			folder_name = excluded.folder_name,
			content_hash = excluded.content_hash,
			word_count = excluded.word_count,
			tags = excluded.tags,
			last_updated = excluded.last_updated,
			needs_embed = excluded.needs_embed`,
		note.ID, note.Path, note.Title, string(note.Category), note.FolderName,
		note.ContentHash, note.WordCount, string(tags), firstSeen, lastUpdated, needsEmbed,
	)
	if err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "upsert note %s", note.ID)
	}

	var seq int64
	if err := tx.QueryRow("SELECT seq FROM notes WHERE id = ?", note.ID).Scan(&seq); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "resolve seq for %s", note.ID)
	}

	if _, err := tx.Exec("DELETE FROM notes_vec WHERE note_seq = ?", seq); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "clear vector for %s", note.ID)
	}
	if embedding != nil {
		blob, err := sqlite_vec.SerializeFloat32(embedding)
		if err != nil {
			return fault.Wrapf(fault.KindData, err, "serialize embedding for %s", note.ID)
		}
		if _, err := tx.Exec("INSERT INTO notes_vec (note_seq, embedding) VALUES (?, ?)", seq, blob); err != nil {
			return fault.Wrapf(fault.KindIntegrity, err, "insert vector for %s", note.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "commit upsert %s", note.ID)
	}
	return nil
}

// SetEmbedding stores the vector for an already indexed note and clears
// its needs_embed flag.
func (s *Store) SetEmbedding(id string, embedding []float32) error {
	if len(embedding) != s.dims {
		return fault.Newf(fault.KindIntegrity, "embedding has %d values, index stores %d", len(embedding), s.dims)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "begin set embedding")
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow("SELECT seq FROM notes WHERE id = ?", id).Scan(&seq)
	if err == sql.ErrNoRows {
		return fault.Newf(fault.KindData, "note %s is not indexed", id)
	}
	if err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "resolve seq for %s", id)
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fault.Wrapf(fault.KindData, err, "serialize embedding for %s", id)
	}
	if _, err := tx.Exec("DELETE FROM notes_vec WHERE note_seq = ?", seq); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "clear vector for %s", id)
	}
	if _, err := tx.Exec("INSERT INTO notes_vec (note_seq, embedding) VALUES (?, ?)", seq, blob); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "insert vector for %s", id)
	}
	if _, err := tx.Exec("UPDATE notes SET needs_embed = 0 WHERE seq = ?", seq); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "clear needs_embed for %s", id)
	}

	if err := tx.Commit(); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "commit embedding %s", id)
	}
	return nil
}

// Rekey renames a note after a vault move. The row keeps its seq, so the
// stored vector stays attached; the content did not change, only where it
// lives. Any stale row already sitting at the new id is replaced.
func (s *Store) Rekey(oldID, newID, newPath string, category vault.Category, folderName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "begin rekey")
	}
	defer tx.Rollback()

	var staleSeq int64
	err = tx.QueryRow("SELECT seq FROM notes WHERE id = ? AND id != ?", newID, oldID).Scan(&staleSeq)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fault.Wrapf(fault.KindIntegrity, err, "check stale row at %s", newID)
	default:
		if _, err := tx.Exec("DELETE FROM notes_vec WHERE note_seq = ?", staleSeq); err != nil {
			return fault.Wrapf(fault.KindIntegrity, err, "drop stale vector at %s", newID)
		}
		if _, err := tx.Exec("DELETE FROM notes WHERE seq = ?", staleSeq); err != nil {
			return fault.Wrapf(fault.KindIntegrity, err, "drop stale row at %s", newID)
		}
	}

	res, err := tx.Exec(`
		UPDATE notes SET id = ?, path = ?, category = ?, folder_name = ?, last_updated = ?
		WHERE id = ?`,
		newID, newPath, string(category), folderName, time.Now().Unix(), oldID,
	)
	if err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "rekey %s to %s", oldID, newID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.KindData, "note %s is not indexed", oldID)
	}

	if err := tx.Commit(); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "commit rekey %s", oldID)
	}
	return nil
}

// Get returns the note with the given id, or nil when it is not indexed.
func (s *Store) Get(id string) (*Note, error) {
	row := s.conn.QueryRow("SELECT "+noteColumns+" FROM notes WHERE id = ?", id)
	note, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrapf(fault.KindIntegrity, err, "read note %s", id)
	}
	return note, nil
}

// Embedding returns the stored vector for a note, or nil when the note has
// no vector yet.
func (s *Store) Embedding(id string) ([]float32, error) {
	var blob []byte
	err := s.conn.QueryRow(`
		SELECT v.embedding FROM notes_vec v
		JOIN notes n ON n.seq = v.note_seq
		WHERE n.id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrapf(fault.KindIntegrity, err, "read embedding %s", id)
	}
	return deserializeFloat32(blob)
}

// Delete removes a note row and its vector. Deleting an unindexed note is
// not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "begin delete")
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow("SELECT seq FROM notes WHERE id = ?", id).Scan(&seq)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "resolve seq for %s", id)
	}

	if _, err := tx.Exec("DELETE FROM notes_vec WHERE note_seq = ?", seq); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "delete vector %s", id)
	}
	if _, err := tx.Exec("DELETE FROM notes WHERE seq = ?", seq); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "delete note %s", id)
	}

	if err := tx.Commit(); err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "commit delete %s", id)
	}
	return nil
}

// DeleteAll drops every note, vector, and cached embedding. Decisions and
// learning history survive; they describe the past, not the index.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []string{
		"DELETE FROM notes_vec",
		"DELETE FROM notes",
		"DELETE FROM embed_cache",
	} {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fault.Wrap(fault.KindIntegrity, err, "clear index")
		}
	}
	return nil
}

// Count returns the number of indexed notes.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM notes").Scan(&n); err != nil {
		return 0, fault.Wrap(fault.KindIntegrity, err, "count notes")
	}
	return n, nil
}

// ContentHashes returns id to content hash for every indexed note, used by
// incremental reindexing to skip unchanged files.
func (s *Store) ContentHashes() (map[string]string, error) {
	rows, err := s.conn.Query("SELECT id, content_hash FROM notes")
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "read content hashes")
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fault.Wrap(fault.KindIntegrity, err, "scan content hash")
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

// NeedingEmbed lists notes flagged for re-embedding, oldest first.
func (s *Store) NeedingEmbed(limit int) ([]Note, error) {
	rows, err := s.conn.Query(
		"SELECT "+noteColumns+" FROM notes WHERE needs_embed = 1 ORDER BY last_updated LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "list notes needing embed")
	}
	defer rows.Close()
	return collectNotes(rows)
}

// AllNotes returns every indexed note ordered by path.
func (s *Store) AllNotes() ([]Note, error) {
	rows, err := s.conn.Query("SELECT " + noteColumns + " FROM notes ORDER BY path")
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "list notes")
	}
	defer rows.Close()
	return collectNotes(rows)
}

// CategoryDistribution counts indexed notes per category.
func (s *Store) CategoryDistribution() (map[vault.Category]int, error) {
	rows, err := s.conn.Query("SELECT category, COUNT(*) FROM notes GROUP BY category")
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "category distribution")
	}
	defer rows.Close()

	dist := make(map[vault.Category]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fault.Wrap(fault.KindIntegrity, err, "scan category count")
		}
		c, _ := vault.ParseCategory(category)
		dist[c] = n
	}
	return dist, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*Note, error) {
	var n Note
	var category, tags string
	var firstSeen, lastUpdated int64
	var needsEmbed int
	err := row.Scan(&n.ID, &n.Path, &n.Title, &category, &n.FolderName,
		&n.ContentHash, &n.WordCount, &tags, &firstSeen, &lastUpdated, &needsEmbed)
	if err != nil {
		return nil, err
	}
	n.Category, _ = vault.ParseCategory(category)
	n.FirstSeen = time.Unix(firstSeen, 0)
	n.LastUpdated = time.Unix(lastUpdated, 0)
	n.NeedsEmbed = needsEmbed == 1
	if tags != "" && tags != "[]" {
		if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
			return nil, fault.Wrapf(fault.KindData, err, "decode tags for %s", n.ID)
		}
	}
	return &n, nil
}

func collectNotes(rows *sql.Rows) ([]Note, error) {
	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fault.Wrap(fault.KindIntegrity, err, "scan note")
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}
