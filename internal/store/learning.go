package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// LearningSnapshot is one point-in-time computation of the system health
// metrics, appended after each executed plan and on demand.
type LearningSnapshot struct {
	ID                    int64
	At                    time.Time
	TotalClassifications  int
	AccuracyRate          float64
	ConfidenceCorrelation float64
	LearningVelocity      float64
	CategoryBalance       float64
	SemanticCoherence     float64
	UserSatisfaction      float64
	SystemAdaptability    float64
	ImprovementScore      float64
}

// Folder feedback user actions.
const (
	FolderActionAccepted = "accepted"
	FolderActionRejected = "rejected"
	FolderActionRenamed  = "renamed"
)

// FolderFeedback records how the user received one proposed folder name.
type FolderFeedback struct {
	ID         int64
	FolderName string
	Category   vault.Category
	Excerpt    string
	Tags       []string
	Patterns   []string
	Action     string
	Reason     string
	At         time.Time
}

const snapshotColumns = `id, at, total_classifications, accuracy_rate, confidence_correlation,
	learning_velocity, category_balance, semantic_coherence, user_satisfaction,
	system_adaptability, improvement_score`

// AppendLearningSnapshot writes one metrics snapshot. A zero At gets the
// current time; the assigned row id is written back to the argument.
func (s *Store) AppendLearningSnapshot(snap *LearningSnapshot) error {
	if snap.At.IsZero() {
		snap.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`
		INSERT INTO learning_snapshots (at, total_classifications, accuracy_rate,
			confidence_correlation, learning_velocity, category_balance,
			semantic_coherence, user_satisfaction, system_adaptability, improvement_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.At.Unix(), snap.TotalClassifications, snap.AccuracyRate,
		snap.ConfidenceCorrelation, snap.LearningVelocity, snap.CategoryBalance,
		snap.SemanticCoherence, snap.UserSatisfaction, snap.SystemAdaptability, snap.ImprovementScore,
	)
	if err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "append learning snapshot")
	}
	if id, err := res.LastInsertId(); err == nil {
		snap.ID = id
	}
	return nil
}

// RecentLearningSnapshots returns the newest n snapshots, newest first.
func (s *Store) RecentLearningSnapshots(n int) ([]LearningSnapshot, error) {
	rows, err := s.conn.Query(
		"SELECT "+snapshotColumns+" FROM learning_snapshots ORDER BY at DESC, id DESC LIMIT ?",
		n,
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "list learning snapshots")
	}
	defer rows.Close()

	var snaps []LearningSnapshot
	for rows.Next() {
		var snap LearningSnapshot
		var at int64
		err := rows.Scan(&snap.ID, &at, &snap.TotalClassifications, &snap.AccuracyRate,
			&snap.ConfidenceCorrelation, &snap.LearningVelocity, &snap.CategoryBalance,
			&snap.SemanticCoherence, &snap.UserSatisfaction, &snap.SystemAdaptability,
			&snap.ImprovementScore)
		if err != nil {
			return nil, fault.Wrap(fault.KindIntegrity, err, "scan learning snapshot")
		}
		snap.At = time.Unix(at, 0)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// AllLearningSnapshots returns every snapshot, oldest first.
func (s *Store) AllLearningSnapshots() ([]LearningSnapshot, error) {
	rows, err := s.conn.Query("SELECT " + snapshotColumns + " FROM learning_snapshots ORDER BY at ASC, id ASC")
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "dump learning snapshots")
	}
	defer rows.Close()

	var snaps []LearningSnapshot
	for rows.Next() {
		var snap LearningSnapshot
		var at int64
		err := rows.Scan(&snap.ID, &at, &snap.TotalClassifications, &snap.AccuracyRate,
			&snap.ConfidenceCorrelation, &snap.LearningVelocity, &snap.CategoryBalance,
			&snap.SemanticCoherence, &snap.UserSatisfaction, &snap.SystemAdaptability,
			&snap.ImprovementScore)
		if err != nil {
			return nil, fault.Wrap(fault.KindIntegrity, err, "scan learning snapshot")
		}
		snap.At = time.Unix(at, 0)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// LatestLearningSnapshot returns the newest snapshot, or nil when none
// has been recorded yet.
func (s *Store) LatestLearningSnapshot() (*LearningSnapshot, error) {
	snaps, err := s.RecentLearningSnapshots(1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// AppendFolderFeedback records the user's verdict on a proposed folder.
func (s *Store) AppendFolderFeedback(fb *FolderFeedback) error {
	if fb.At.IsZero() {
		fb.At = time.Now()
	}
	tags, err := json.Marshal(fb.Tags)
	if err != nil {
		return fault.Wrap(fault.KindData, err, "encode folder feedback tags")
	}
	patterns, err := json.Marshal(fb.Patterns)
	if err != nil {
		return fault.Wrap(fault.KindData, err, "encode folder feedback patterns")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`
		INSERT INTO folder_feedback (folder_name, category, excerpt, tags, patterns, user_action, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.FolderName, string(fb.Category), fb.Excerpt, string(tags), string(patterns),
		fb.Action, fb.Reason, fb.At.Unix(),
	)
	if err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "append folder feedback")
	}
	if id, err := res.LastInsertId(); err == nil {
		fb.ID = id
	}
	return nil
}

// RecentFolderFeedback returns the newest n folder feedback rows, newest
// first.
func (s *Store) RecentFolderFeedback(n int) ([]FolderFeedback, error) {
	rows, err := s.conn.Query(`
		SELECT id, folder_name, category, excerpt, tags, patterns, user_action, reason, at
		FROM folder_feedback ORDER BY at DESC, id DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "list folder feedback")
	}
	defer rows.Close()

	var out []FolderFeedback
	for rows.Next() {
		fb, err := scanFolderFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *fb)
	}
	return out, rows.Err()
}

// AllFolderFeedback returns every folder feedback row, oldest first.
func (s *Store) AllFolderFeedback() ([]FolderFeedback, error) {
	rows, err := s.conn.Query(`
		SELECT id, folder_name, category, excerpt, tags, patterns, user_action, reason, at
		FROM folder_feedback ORDER BY at ASC, id ASC`)
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "dump folder feedback")
	}
	defer rows.Close()

	var out []FolderFeedback
	for rows.Next() {
		fb, err := scanFolderFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *fb)
	}
	return out, rows.Err()
}

func scanFolderFeedback(rows *sql.Rows) (*FolderFeedback, error) {
	var fb FolderFeedback
	var category, tags, patterns string
	var at int64
	err := rows.Scan(&fb.ID, &fb.FolderName, &category, &fb.Excerpt, &tags, &patterns,
		&fb.Action, &fb.Reason, &at)
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "scan folder feedback")
	}
	fb.Category, _ = vault.ParseCategory(category)
	fb.At = time.Unix(at, 0)
	if tags != "" && tags != "[]" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &fb.Tags); err != nil {
			return nil, fault.Wrap(fault.KindData, err, "decode folder feedback tags")
		}
	}
	if patterns != "" && patterns != "[]" && patterns != "null" {
		if err := json.Unmarshal([]byte(patterns), &fb.Patterns); err != nil {
			return nil, fault.Wrap(fault.KindData, err, "decode folder feedback patterns")
		}
	}
	return &fb, nil
}
