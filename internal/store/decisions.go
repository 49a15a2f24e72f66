package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// FeedbackVerdict is a user's verdict on one classification decision.
type FeedbackVerdict string

const (
	FeedbackAccepted  FeedbackVerdict = "accepted"
	FeedbackRejected  FeedbackVerdict = "rejected"
	FeedbackCorrected FeedbackVerdict = "corrected"
)

// Weights is the normalized signal weighting used for one decision.
type Weights struct {
	Semantic float64
	LLM      float64
	Rule     float64
}

// Decision is one classification outcome. Rows are append-only: once
// written, only the feedback fields may change.
type Decision struct {
	ID            string
	NoteID        string
	At            time.Time
	Category      vault.Category
	FolderName    string
	Confidence    float64
	Method        string
	SemanticScore float64
	LLMScore      float64
	RuleScore     float64
	Weights       Weights
	Reasoning     string
	Factors       []string
	NeighborShare float64

	Feedback      FeedbackVerdict
	CorrectedTo   vault.Category
	FeedbackNotes string
	FeedbackAt    time.Time
}

const decisionColumns = `id, note_id, at, category, folder_name, confidence, method,
	semantic_score, llm_score, rule_score, w_semantic, w_llm, w_rule,
	reasoning, factors, neighbor_share, feedback, corrected_to, feedback_notes, feedback_at`

// AppendDecision writes a decision record. A missing ID gets a fresh UUID
// and a zero At gets the current time; both are filled in on the argument.
func (s *Store) AppendDecision(d *Decision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.At.IsZero() {
		d.At = time.Now()
	}
	factors, err := json.Marshal(d.Factors)
	if err != nil {
		return fault.Wrapf(fault.KindData, err, "encode factors for %s", d.NoteID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.conn.Exec(`
		INSERT INTO decisions (id, note_id, at, category, folder_name, confidence, method,
			semantic_score, llm_score, rule_score, w_semantic, w_llm, w_rule,
			reasoning, factors, neighbor_share)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.NoteID, d.At.Unix(), string(d.Category), d.FolderName, d.Confidence, d.Method,
		d.SemanticScore, d.LLMScore, d.RuleScore, d.Weights.Semantic, d.Weights.LLM, d.Weights.Rule,
		d.Reasoning, string(factors), d.NeighborShare,
	)
	if err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "append decision for %s", d.NoteID)
	}
	return nil
}

// SetFeedback records a user verdict on a decision. This is the only
// mutation the decision log permits.
func (s *Store) SetFeedback(decisionID string, verdict FeedbackVerdict, correctedTo vault.Category, notes string) error {
	if verdict == FeedbackCorrected && (correctedTo == "" || correctedTo == vault.Unknown) {
		return fault.New(fault.KindPrecondition, "corrected feedback needs a target category")
	}
	if verdict != FeedbackCorrected {
		correctedTo = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`
		UPDATE decisions SET feedback = ?, corrected_to = ?, feedback_notes = ?, feedback_at = ?
		WHERE id = ?`,
		string(verdict), string(correctedTo), notes, time.Now().Unix(), decisionID,
	)
	if err != nil {
		return fault.Wrapf(fault.KindIntegrity, err, "record feedback on %s", decisionID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.KindData, "decision %s not found", decisionID)
	}
	return nil
}

// GetDecision returns one decision by id, or nil when absent.
func (s *Store) GetDecision(id string) (*Decision, error) {
	row := s.conn.QueryRow("SELECT "+decisionColumns+" FROM decisions WHERE id = ?", id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrapf(fault.KindIntegrity, err, "read decision %s", id)
	}
	return d, nil
}

// LatestDecisionForNote returns the newest decision for a note, or nil
// when the note was never classified.
func (s *Store) LatestDecisionForNote(noteID string) (*Decision, error) {
	row := s.conn.QueryRow(
		"SELECT "+decisionColumns+" FROM decisions WHERE note_id = ? ORDER BY at DESC, rowid DESC LIMIT 1",
		noteID,
	)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrapf(fault.KindIntegrity, err, "read decision for %s", noteID)
	}
	return d, nil
}

// RecentDecisions returns the newest n decisions, newest first.
func (s *Store) RecentDecisions(n int) ([]Decision, error) {
	rows, err := s.conn.Query(
		"SELECT "+decisionColumns+" FROM decisions ORDER BY at DESC, rowid DESC LIMIT ?",
		n,
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "list decisions")
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fault.Wrap(fault.KindIntegrity, err, "scan decision")
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

// AllDecisions returns every decision in insertion order, oldest first.
func (s *Store) AllDecisions() ([]Decision, error) {
	rows, err := s.conn.Query("SELECT " + decisionColumns + " FROM decisions ORDER BY at ASC, rowid ASC")
	if err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, err, "dump decisions")
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fault.Wrap(fault.KindIntegrity, err, "scan decision")
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

// DecisionCount returns the total number of recorded decisions.
func (s *Store) DecisionCount() (int, error) {
	var n int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM decisions").Scan(&n); err != nil {
		return 0, fault.Wrap(fault.KindIntegrity, err, "count decisions")
	}
	return n, nil
}

func scanDecision(row rowScanner) (*Decision, error) {
	var d Decision
	var category, factors, feedback, correctedTo string
	var at, feedbackAt int64
	err := row.Scan(&d.ID, &d.NoteID, &at, &category, &d.FolderName, &d.Confidence, &d.Method,
		&d.SemanticScore, &d.LLMScore, &d.RuleScore, &d.Weights.Semantic, &d.Weights.LLM, &d.Weights.Rule,
		&d.Reasoning, &factors, &d.NeighborShare, &feedback, &correctedTo, &d.FeedbackNotes, &feedbackAt)
	if err != nil {
		return nil, err
	}
	d.At = time.Unix(at, 0)
	d.Category, _ = vault.ParseCategory(category)
	d.Feedback = FeedbackVerdict(feedback)
	if correctedTo != "" {
		d.CorrectedTo, _ = vault.ParseCategory(correctedTo)
	}
	if feedbackAt > 0 {
		d.FeedbackAt = time.Unix(feedbackAt, 0)
	}
	if factors != "" && factors != "null" && factors != "[]" {
		if err := json.Unmarshal([]byte(factors), &d.Factors); err != nil {
			return nil, fault.Wrapf(fault.KindData, err, "decode factors for %s", d.ID)
		}
	}
	return &d, nil
}
