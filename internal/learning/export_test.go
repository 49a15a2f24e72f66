package learning

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/store"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

func TestExportImportRoundTripsMetrics(t *testing.T) {
	src, srcStore := newTestService(t)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i, c := range []vault.Category{vault.Projects, vault.Areas, vault.Resources} {
		d := &store.Decision{
			NoteID:        "00-Inbox/export-" + string(c) + ".md",
			At:            base.Add(time.Duration(i) * time.Minute),
			Category:      c,
			FolderName:    "Quarterly Goals",
			Confidence:    0.6 + float64(i)*0.1,
			Method:        "consensus",
			SemanticScore: 0.8,
			LLMScore:      0.9,
			RuleScore:     0.9,
			Weights:       store.Weights{Semantic: 0.5, LLM: 0.3, Rule: 0.2},
			Factors:       []string{"strong_rule"},
			NeighborShare: 0.8,
		}
		if err := srcStore.AppendDecision(d); err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, d.ID)
	}
	for _, id := range ids[:2] {
		if _, err := src.RecordFeedback(id, store.FeedbackAccepted, "", ""); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	if _, err := src.RecordFeedback(ids[2], store.FeedbackCorrected, vault.Archive, "stale"); err != nil {
		t.Fatalf("correct: %v", err)
	}
	if err := src.RecordFolderFeedback(&store.FolderFeedback{
		FolderName: "Quarterly Goals",
		Category:   vault.Projects,
		Action:     store.FolderActionAccepted,
		At:         base.Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("folder feedback: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := src.RecordSnapshot(); err != nil {
			t.Fatalf("snapshot: %v", err)
		}
	}

	want, err := src.Status()
	if err != nil {
		t.Fatalf("source status: %v", err)
	}

	doc, err := src.Export(false, map[string]string{"embedding_model": "nomic-embed-text"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if doc.SchemaVersion != ExportSchemaVersion {
		t.Fatalf("schema version = %d", doc.SchemaVersion)
	}
	if len(doc.Decisions) != 3 || len(doc.Snapshots) != 2 || len(doc.FolderFeedback) != 1 {
		t.Fatalf("export sizes = %d/%d/%d", len(doc.Decisions), len(doc.Snapshots), len(doc.FolderFeedback))
	}

	// Through the wire format, as the CLI would write and read it.
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire Export
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	dst, _ := newTestService(t)
	report, err := dst.Import(&wire)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Decisions != 3 || report.Snapshots != 2 || report.FolderFeedback != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Preferences["embedding_model"] != "nomic-embed-text" {
		t.Fatalf("preferences = %v", report.Preferences)
	}

	got, err := dst.Status()
	if err != nil {
		t.Fatalf("dest status: %v", err)
	}
	approx(t, "accuracy", got.Metrics.AccuracyRate, want.Metrics.AccuracyRate)
	approx(t, "correlation", got.Metrics.ConfidenceCorrelation, want.Metrics.ConfidenceCorrelation)
	approx(t, "velocity", got.Metrics.LearningVelocity, want.Metrics.LearningVelocity)
	approx(t, "balance", got.Metrics.CategoryBalance, want.Metrics.CategoryBalance)
	approx(t, "coherence", got.Metrics.SemanticCoherence, want.Metrics.SemanticCoherence)
	approx(t, "satisfaction", got.Metrics.UserSatisfaction, want.Metrics.UserSatisfaction)
	approx(t, "adaptability", got.Metrics.SystemAdaptability, want.Metrics.SystemAdaptability)
	approx(t, "improvement", got.Metrics.ImprovementScore, want.Metrics.ImprovementScore)
	if got.DecisionCount != want.DecisionCount || got.FeedbackCount != want.FeedbackCount {
		t.Fatalf("counts = %d/%d, want %d/%d",
			got.DecisionCount, got.FeedbackCount, want.DecisionCount, want.FeedbackCount)
	}
	if got.Policy != want.Policy {
		t.Fatalf("policy = %+v, want %+v", got.Policy, want.Policy)
	}
}

func TestImportRefusesPopulatedStore(t *testing.T) {
	svc, st := newTestService(t)
	seedDecision(t, st, "existing", vault.Projects, 0.8)

	_, err := svc.Import(&Export{SchemaVersion: ExportSchemaVersion})
	if fault.KindOf(err) != fault.KindPrecondition {
		t.Fatalf("kind = %v, want precondition, err %v", fault.KindOf(err), err)
	}
}

func TestImportRejectsUnknownSchema(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Import(&Export{SchemaVersion: 99})
	if fault.KindOf(err) != fault.KindData {
		t.Fatalf("kind = %v, want data fault, err %v", fault.KindOf(err), err)
	}
}

func TestExportEmbeddingsRoundTrip(t *testing.T) {
	src, srcStore := newTestService(t)

	vec := []float32{0.1, 0.2, 0.3, 0.4}
	note := store.Note{
		ID:          "01-Projects/Launch Plan/kickoff.md",
		Path:        "01-Projects/Launch Plan/kickoff.md",
		Title:       "Kickoff",
		Category:    vault.Projects,
		FolderName:  "Launch Plan",
		ContentHash: "abc123",
		WordCount:   120,
		Tags:        []string{"project"},
	}
	if err := srcStore.Upsert(note, vec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	doc, err := src.Export(true, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(doc.Embeddings) != 1 || len(doc.Embeddings[0].Vector) != 4 {
		t.Fatalf("embeddings = %+v", doc.Embeddings)
	}

	dst, dstStore := newTestService(t)
	report, err := dst.Import(doc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Embeddings != 1 {
		t.Fatalf("report = %+v", report)
	}

	got, err := dstStore.Get(note.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Category != vault.Projects || got.FolderName != "Launch Plan" {
		t.Fatalf("imported note = %+v", got)
	}
	vecGot, err := dstStore.Embedding(note.ID)
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}
	if len(vecGot) != 4 || vecGot[0] != vec[0] || vecGot[3] != vec[3] {
		t.Fatalf("vector = %v, want %v", vecGot, vec)
	}
}

func TestImportSkipsForeignModelEmbeddings(t *testing.T) {
	src, srcStore := newTestService(t)
	if err := srcStore.Upsert(store.Note{
		ID:          "00-Inbox/foreign.md",
		Path:        "00-Inbox/foreign.md",
		Category:    vault.Inbox,
		ContentHash: "def456",
	}, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	doc, err := src.Export(true, map[string]string{"embedding_model": "some-other-model"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, dstStore := newTestService(t)
	report, err := dst.Import(doc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Embeddings != 0 {
		t.Fatalf("embeddings imported = %d, want 0", report.Embeddings)
	}
	count, err := dstStore.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("notes in index = %d, want 0", count)
	}
}
