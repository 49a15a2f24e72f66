package learning

import (
	"time"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/fusion"
	"github.com/parakeet-labs/parakeet/internal/store"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// ExportSchemaVersion tags the knowledge export document. Import refuses
// any other version.
const ExportSchemaVersion = 1

// Export is the complete serialized learning state: metrics, the decision
// log, feedback, patterns, the weight policy, and optionally the indexed
// notes with their vectors.
type Export struct {
	SchemaVersion  int               `json:"schema_version"`
	ExportedAt     time.Time         `json:"exported_at"`
	Metrics        Metrics           `json:"metrics"`
	Decisions      []DecisionRecord  `json:"decisions,omitempty"`
	FolderFeedback []FolderRecord    `json:"folder_feedback,omitempty"`
	Snapshots      []Metrics         `json:"snapshots,omitempty"`
	Patterns       []Pattern         `json:"patterns,omitempty"`
	Policy         fusion.Policy     `json:"policy"`
	Preferences    map[string]string `json:"preferences,omitempty"`
	Embeddings     []NoteRecord      `json:"embeddings,omitempty"`
}

// Metrics is the wire form of one metrics snapshot.
type Metrics struct {
	At                    time.Time `json:"at"`
	TotalClassifications  int       `json:"total_classifications"`
	AccuracyRate          float64   `json:"accuracy_rate"`
	ConfidenceCorrelation float64   `json:"confidence_correlation"`
	LearningVelocity      float64   `json:"learning_velocity"`
	CategoryBalance       float64   `json:"category_balance"`
	SemanticCoherence     float64   `json:"semantic_coherence"`
	UserSatisfaction      float64   `json:"user_satisfaction"`
	SystemAdaptability    float64   `json:"system_adaptability"`
	ImprovementScore      float64   `json:"improvement_score"`
}

// DecisionRecord is the wire form of one decision.
type DecisionRecord struct {
	ID            string    `json:"id"`
	NoteID        string    `json:"note_id"`
	At            time.Time `json:"at"`
	Category      string    `json:"category"`
	FolderName    string    `json:"folder_name"`
	Confidence    float64   `json:"confidence"`
	Method        string    `json:"method"`
	SemanticScore float64   `json:"semantic_score"`
	LLMScore      float64   `json:"llm_score"`
	RuleScore     float64   `json:"rule_score"`
	WSemantic     float64   `json:"w_semantic"`
	WLLM          float64   `json:"w_llm"`
	WRule         float64   `json:"w_rule"`
	Reasoning     string    `json:"reasoning,omitempty"`
	Factors       []string  `json:"factors,omitempty"`
	NeighborShare float64   `json:"neighbor_share"`
	Feedback      string    `json:"feedback,omitempty"`
	CorrectedTo   string    `json:"corrected_to,omitempty"`
	FeedbackNotes string    `json:"feedback_notes,omitempty"`
}

// FolderRecord is the wire form of one folder feedback row.
type FolderRecord struct {
	FolderName string    `json:"folder_name"`
	Category   string    `json:"category"`
	Excerpt    string    `json:"excerpt,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Patterns   []string  `json:"patterns,omitempty"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// NoteRecord is the wire form of one indexed note, vector included.
type NoteRecord struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Title       string    `json:"title,omitempty"`
	Category    string    `json:"category"`
	FolderName  string    `json:"folder_name,omitempty"`
	ContentHash string    `json:"content_hash"`
	WordCount   int       `json:"word_count"`
	Tags        []string  `json:"tags,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
	Vector      []float32 `json:"vector,omitempty"`
}

// ImportReport counts what an import brought in.
type ImportReport struct {
	Decisions      int
	FolderFeedback int
	Snapshots      int
	Embeddings     int
	Preferences    map[string]string
}

// Export serializes the full learning state. prefs carries caller-supplied
// settings worth preserving across machines (model names and the like).
func (s *Service) Export(withEmbeddings bool, prefs map[string]string) (*Export, error) {
	st, err := s.Status()
	if err != nil {
		return nil, err
	}
	decisions, err := s.store.AllDecisions()
	if err != nil {
		return nil, err
	}
	folderFB, err := s.store.AllFolderFeedback()
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.AllLearningSnapshots()
	if err != nil {
		return nil, err
	}

	doc := &Export{
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    time.Now().UTC(),
		Metrics:       metricsRecord(st.Metrics),
		Policy:        st.Policy,
		Patterns:      st.Patterns,
		Preferences:   prefs,
	}
	for _, d := range decisions {
		doc.Decisions = append(doc.Decisions, decisionRecord(d))
	}
	for _, fb := range folderFB {
		doc.FolderFeedback = append(doc.FolderFeedback, folderRecord(fb))
	}
	for _, snap := range snaps {
		doc.Snapshots = append(doc.Snapshots, metricsRecord(snap))
	}

	if withEmbeddings {
		notes, err := s.store.AllNotes()
		if err != nil {
			return nil, err
		}
		for _, n := range notes {
			vec, err := s.store.Embedding(n.ID)
			if err != nil {
				return nil, err
			}
			doc.Embeddings = append(doc.Embeddings, noteRecord(n, vec))
		}
	}
	return doc, nil
}

// Import loads an export document into an empty learning store, restoring
// the decision log, feedback, snapshot history, policy, and any embeddings.
// Derived metrics recompute to the exported values. Embeddings produced by
// a different model than this index stores are dropped; the notes come back
// on the next reindex.
func (s *Service) Import(doc *Export) (*ImportReport, error) {
	if doc.SchemaVersion != ExportSchemaVersion {
		return nil, fault.Newf(fault.KindData, "export schema version %d not supported (want %d)",
			doc.SchemaVersion, ExportSchemaVersion)
	}
	count, err := s.store.DecisionCount()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fault.Newf(fault.KindPrecondition, "learning store already holds %d decisions", count).
			WithHint("import into a fresh index directory, or move the current one aside first")
	}

	embeddings := doc.Embeddings
	if model := doc.Preferences["embedding_model"]; model != "" && len(embeddings) > 0 {
		storeModel, err := s.store.EmbeddingModel()
		if err != nil {
			return nil, err
		}
		if model != storeModel {
			s.log.Warn("export embeddings use a different model, skipping them",
				zap.String("export_model", model),
				zap.String("index_model", storeModel))
			embeddings = nil
		}
	}
	if len(embeddings) > 0 {
		notes, err := s.store.Count()
		if err != nil {
			return nil, err
		}
		if notes > 0 {
			return nil, fault.Newf(fault.KindPrecondition, "index already holds %d notes", notes).
				WithHint("import into a fresh index directory, or re-export without embeddings")
		}
	}

	report := &ImportReport{Preferences: doc.Preferences}
	for _, rec := range doc.Decisions {
		d := rec.decision()
		if err := s.store.AppendDecision(&d); err != nil {
			return nil, err
		}
		if rec.Feedback != "" {
			corrected, _ := vault.ParseCategory(rec.CorrectedTo)
			if err := s.store.SetFeedback(d.ID, store.FeedbackVerdict(rec.Feedback), corrected, rec.FeedbackNotes); err != nil {
				return nil, err
			}
		}
		report.Decisions++
	}
	for _, rec := range doc.FolderFeedback {
		fb := rec.folderFeedback()
		if err := s.store.AppendFolderFeedback(&fb); err != nil {
			return nil, err
		}
		report.FolderFeedback++
	}
	for _, rec := range doc.Snapshots {
		snap := rec.snapshot()
		if err := s.store.AppendLearningSnapshot(&snap); err != nil {
			return nil, err
		}
		report.Snapshots++
	}
	for _, rec := range embeddings {
		note, vec := rec.note()
		if err := s.store.Upsert(note, vec); err != nil {
			return nil, err
		}
		report.Embeddings++
	}

	if err := SavePolicy(s.indexDir, doc.Policy); err != nil {
		return nil, err
	}
	s.log.Info("knowledge import complete",
		zap.Int("decisions", report.Decisions),
		zap.Int("folder_feedback", report.FolderFeedback),
		zap.Int("snapshots", report.Snapshots),
		zap.Int("embeddings", report.Embeddings))
	return report, nil
}

func metricsRecord(m store.LearningSnapshot) Metrics {
	return Metrics{
		At:                    m.At,
		TotalClassifications:  m.TotalClassifications,
		AccuracyRate:          m.AccuracyRate,
		ConfidenceCorrelation: m.ConfidenceCorrelation,
		LearningVelocity:      m.LearningVelocity,
		CategoryBalance:       m.CategoryBalance,
		SemanticCoherence:     m.SemanticCoherence,
		UserSatisfaction:      m.UserSatisfaction,
		SystemAdaptability:    m.SystemAdaptability,
		ImprovementScore:      m.ImprovementScore,
	}
}

func (m Metrics) snapshot() store.LearningSnapshot {
	return store.LearningSnapshot{
		At:                    m.At,
		TotalClassifications:  m.TotalClassifications,
		AccuracyRate:          m.AccuracyRate,
		ConfidenceCorrelation: m.ConfidenceCorrelation,
		LearningVelocity:      m.LearningVelocity,
		CategoryBalance:       m.CategoryBalance,
		SemanticCoherence:     m.SemanticCoherence,
		UserSatisfaction:      m.UserSatisfaction,
		SystemAdaptability:    m.SystemAdaptability,
		ImprovementScore:      m.ImprovementScore,
	}
}

func decisionRecord(d store.Decision) DecisionRecord {
	return DecisionRecord{
		ID:            d.ID,
		NoteID:        d.NoteID,
		At:            d.At,
		Category:      string(d.Category),
		FolderName:    d.FolderName,
		Confidence:    d.Confidence,
		Method:        d.Method,
		SemanticScore: d.SemanticScore,
		LLMScore:      d.LLMScore,
		RuleScore:     d.RuleScore,
		WSemantic:     d.Weights.Semantic,
		WLLM:          d.Weights.LLM,
		WRule:         d.Weights.Rule,
		Reasoning:     d.Reasoning,
		Factors:       d.Factors,
		NeighborShare: d.NeighborShare,
		Feedback:      string(d.Feedback),
		CorrectedTo:   string(d.CorrectedTo),
		FeedbackNotes: d.FeedbackNotes,
	}
}

func (r DecisionRecord) decision() store.Decision {
	category, _ := vault.ParseCategory(r.Category)
	return store.Decision{
		ID:            r.ID,
		NoteID:        r.NoteID,
		At:            r.At,
		Category:      category,
		FolderName:    r.FolderName,
		Confidence:    r.Confidence,
		Method:        r.Method,
		SemanticScore: r.SemanticScore,
		LLMScore:      r.LLMScore,
		RuleScore:     r.RuleScore,
		Weights:       store.Weights{Semantic: r.WSemantic, LLM: r.WLLM, Rule: r.WRule},
		Reasoning:     r.Reasoning,
		Factors:       r.Factors,
		NeighborShare: r.NeighborShare,
	}
}

func folderRecord(fb store.FolderFeedback) FolderRecord {
	return FolderRecord{
		FolderName: fb.FolderName,
		Category:   string(fb.Category),
		Excerpt:    fb.Excerpt,
		Tags:       fb.Tags,
		Patterns:   fb.Patterns,
		Action:     fb.Action,
		Reason:     fb.Reason,
		At:         fb.At,
	}
}

func (r FolderRecord) folderFeedback() store.FolderFeedback {
	category, _ := vault.ParseCategory(r.Category)
	return store.FolderFeedback{
		FolderName: r.FolderName,
		Category:   category,
		Excerpt:    r.Excerpt,
		Tags:       r.Tags,
		Patterns:   r.Patterns,
		Action:     r.Action,
		Reason:     r.Reason,
		At:         r.At,
	}
}

func noteRecord(n store.Note, vec []float32) NoteRecord {
	return NoteRecord{
		ID:          n.ID,
		Path:        n.Path,
		Title:       n.Title,
		Category:    string(n.Category),
		FolderName:  n.FolderName,
		ContentHash: n.ContentHash,
		WordCount:   n.WordCount,
		Tags:        n.Tags,
		FirstSeen:   n.FirstSeen,
		LastUpdated: n.LastUpdated,
		Vector:      vec,
	}
}

func (r NoteRecord) note() (store.Note, []float32) {
	category, _ := vault.ParseCategory(r.Category)
	return store.Note{
		ID:          r.ID,
		Path:        r.Path,
		Title:       r.Title,
		Category:    category,
		FolderName:  r.FolderName,
		ContentHash: r.ContentHash,
		WordCount:   r.WordCount,
		Tags:        r.Tags,
		FirstSeen:   r.FirstSeen,
		LastUpdated: r.LastUpdated,
	}, r.Vector
}
