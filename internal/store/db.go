// Package store is the SQLite + sqlite-vec persistence layer: the semantic
// index (note rows + embedding vectors), the append-only decision log with
// user feedback, folder-creation feedback, learning snapshots, and the
// embedding cache. One writer at a time; the engine serializes writers with
// a lock file on the index directory before opening.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
)

func init() {
	sqlite_vec.Auto()
}

// DBFileName is the index database file under the index directory.
const DBFileName = "index.db"

const schemaVersion = 1

// Store wraps a SQLite connection with sqlite-vec support.
type Store struct {
	conn *sql.DB
	mu   sync.Mutex // serialize writes
	dims int
	log  *zap.Logger
}

// Open opens or creates the index database under dir. The embedding model
// and its dimensions are pinned in the meta table on first open; a later
// open with a different model or width is an integrity error, since mixing
// vectors from two models makes every distance meaningless.
func Open(dir, model string, dims int, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fault.Wrapf(fault.KindPrecondition, err, "create index dir %s", dir)
	}
	path := filepath.Join(dir, DBFileName)
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fault.Wrapf(fault.KindPrecondition, err, "open index %s", path)
	}
	return prepare(conn, model, dims, log)
}

// OpenMemory opens an in-memory store for testing.
func OpenMemory(model string, dims int) (*Store, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	return prepare(conn, model, dims, zap.NewNop())
}

func prepare(conn *sql.DB, model string, dims int, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var vecVersion string
	if err := conn.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		conn.Close()
		return nil, fault.Wrap(fault.KindPrecondition, err, "sqlite-vec not available")
	}

	s := &Store{conn: conn, dims: dims, log: log}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.ensureMeta(model, dims); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.ensureVecTable(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debug("index opened",
		zap.String("sqlite_vec", vecVersion),
		zap.String("model", model),
		zap.Int("dims", dims))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Dimensions returns the vector width the index was created with.
func (s *Store) Dimensions() int {
	return s.dims
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS notes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			path TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'Unknown',
			folder_name TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL DEFAULT '',
			word_count INTEGER NOT NULL DEFAULT 0,
			tags TEXT NOT NULL DEFAULT '[]',
			first_seen INTEGER NOT NULL,
			last_updated INTEGER NOT NULL,
			needs_embed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_path ON notes(path)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_category ON notes(category)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_needs_embed ON notes(needs_embed)`,

		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			note_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			category TEXT NOT NULL,
			folder_name TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			method TEXT NOT NULL,
			semantic_score REAL NOT NULL DEFAULT 0,
			llm_score REAL NOT NULL DEFAULT 0,
			rule_score REAL NOT NULL DEFAULT 0,
			w_semantic REAL NOT NULL DEFAULT 0,
			w_llm REAL NOT NULL DEFAULT 0,
			w_rule REAL NOT NULL DEFAULT 0,
			reasoning TEXT NOT NULL DEFAULT '',
			factors TEXT NOT NULL DEFAULT '{}',
			neighbor_share REAL NOT NULL DEFAULT 0,
			feedback TEXT NOT NULL DEFAULT '',
			corrected_to TEXT NOT NULL DEFAULT '',
			feedback_notes TEXT NOT NULL DEFAULT '',
			feedback_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_at ON decisions(at)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_note ON decisions(note_id)`,

		`CREATE TABLE IF NOT EXISTS folder_feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			folder_name TEXT NOT NULL,
			category TEXT NOT NULL,
			excerpt TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			patterns TEXT NOT NULL DEFAULT '[]',
			user_action TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folder_feedback_name ON folder_feedback(folder_name)`,

		`CREATE TABLE IF NOT EXISTS learning_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			total_classifications INTEGER NOT NULL DEFAULT 0,
			accuracy_rate REAL NOT NULL DEFAULT 0,
			confidence_correlation REAL NOT NULL DEFAULT 0,
			learning_velocity REAL NOT NULL DEFAULT 0,
			category_balance REAL NOT NULL DEFAULT 0,
			semantic_coherence REAL NOT NULL DEFAULT 0,
			user_satisfaction REAL NOT NULL DEFAULT 0,
			system_adaptability REAL NOT NULL DEFAULT 0,
			improvement_score REAL NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS embed_cache (
			content_hash TEXT NOT NULL,
			model TEXT NOT NULL,
			embedding BLOB NOT NULL,
			at INTEGER NOT NULL,
			PRIMARY KEY (content_hash, model)
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.conn.Exec(m); err != nil {
			return fault.Wrapf(fault.KindIntegrity, err, "migrate index schema")
		}
	}
	return nil
}

// ensureMeta pins schema version, embedding model, and vector width on
// first open and verifies them on every later open.
func (s *Store) ensureMeta(model string, dims int) error {
	stored, err := s.metaGet("schema_version")
	if err != nil {
		return err
	}
	if stored == "" {
		pairs := map[string]string{
			"schema_version":  strconv.Itoa(schemaVersion),
			"embedding_model": model,
			"embedding_dims":  strconv.Itoa(dims),
		}
		for k, v := range pairs {
			if err := s.metaSet(k, v); err != nil {
				return err
			}
		}
		return nil
	}

	if stored != strconv.Itoa(schemaVersion) {
		return fault.Newf(fault.KindIntegrity, "index schema version %s, this build expects %d", stored, schemaVersion).
			WithHint("run 'parakeet reindex --force' to rebuild the index")
	}
	storedModel, err := s.metaGet("embedding_model")
	if err != nil {
		return err
	}
	storedDims, err := s.metaGet("embedding_dims")
	if err != nil {
		return err
	}
	if storedModel != model || storedDims != strconv.Itoa(dims) {
		return fault.Newf(fault.KindIntegrity, "index built with model %s (%s dims), config wants %s (%d dims)",
			storedModel, storedDims, model, dims).
			WithHint("run 'parakeet reindex --force' to rebuild with the new model")
	}

	// The stored width is authoritative for the vec table.
	if d, err := strconv.Atoi(storedDims); err == nil {
		s.dims = d
	}
	return nil
}

func (s *Store) ensureVecTable() error {
	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS notes_vec USING vec0(
		note_seq INTEGER PRIMARY KEY,
		embedding float[%d] distance_metric=cosine
	)`, s.dims)
	if _, err := s.conn.Exec(stmt); err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "create vector table")
	}
	return nil
}

func (s *Store) metaGet(key string) (string, error) {
	var value string
	err := s.conn.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fault.Wrapf(fault.KindIntegrity, err, "read meta %s", key)
	}
	return value, nil
}

func (s *Store) metaSet(key, value string) error {
	_, err := s.conn.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "write meta %s", key)
	}
	return nil
}

// EmbeddingModel returns the model the index was built with.
func (s *Store) EmbeddingModel() (string, error) {
	return s.metaGet("embedding_model")
}

// Integrity runs SQLite's fast consistency check. The executor calls this
// before applying a plan; a corrupted index refuses to run rather than
// recording moves it cannot track.
func (s *Store) Integrity() error {
	var result string
	if err := s.conn.QueryRow("PRAGMA quick_check(1)").Scan(&result); err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "integrity check")
	}
	if result != "ok" {
		return fault.Newf(fault.KindIntegrity, "index failed its integrity check: %s", result).
			WithHint("rebuild the index with 'parakeet reindex --force'")
	}
	return nil
}

// deserializeFloat32 converts raw little-endian bytes back to a vector.
func deserializeFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fault.Newf(fault.KindIntegrity, "invalid vector data length %d", len(data))
	}
	n := len(data) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : (i+1)*4])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}
