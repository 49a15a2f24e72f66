package store

import (
	"testing"
	"time"

	"github.com/parakeet-labs/parakeet/internal/vault"
)

func TestLearningSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)

	snap := &LearningSnapshot{
		TotalClassifications:  42,
		AccuracyRate:          0.9,
		ConfidenceCorrelation: 0.75,
		LearningVelocity:      0.6,
		CategoryBalance:       0.8,
		SemanticCoherence:     0.7,
		UserSatisfaction:      1.0,
		SystemAdaptability:    0.5,
		ImprovementScore:      0.77,
	}
	if err := s.AppendLearningSnapshot(snap); err != nil {
		t.Fatalf("append: %v", err)
	}
	if snap.ID == 0 {
		t.Error("snapshot id not assigned")
	}
	if snap.At.IsZero() {
		t.Error("snapshot time not assigned")
	}

	got, err := s.LatestLearningSnapshot()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got == nil {
		t.Fatal("no snapshot after append")
	}
	if got.TotalClassifications != 42 || got.ImprovementScore != 0.77 {
		t.Errorf("got %+v", got)
	}
	if got.AccuracyRate != 0.9 || got.UserSatisfaction != 1.0 {
		t.Errorf("metrics lost in round trip: %+v", got)
	}
}

func TestLatestLearningSnapshotEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LatestLearningSnapshot()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v from empty history", got)
	}
}

func TestRecentLearningSnapshotsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		snap := &LearningSnapshot{
			At:               base.Add(time.Duration(i) * 24 * time.Hour),
			ImprovementScore: float64(i) / 10,
		}
		if err := s.AppendLearningSnapshot(snap); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	snaps, err := s.RecentLearningSnapshots(3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snaps))
	}
	if snaps[0].ImprovementScore != 0.3 || snaps[2].ImprovementScore != 0.1 {
		t.Errorf("order = %.1f, %.1f, %.1f, want 0.3, 0.2, 0.1",
			snaps[0].ImprovementScore, snaps[1].ImprovementScore, snaps[2].ImprovementScore)
	}
}

func TestFolderFeedbackRoundTrip(t *testing.T) {
	s := newTestStore(t)

	fb := &FolderFeedback{
		FolderName: "Meeting Notes",
		Category:   vault.Areas,
		Excerpt:    "weekly sync with the platform team",
		Tags:       []string{"meetings", "work"},
		Patterns:   []string{"meeting", "sync"},
		Action:     FolderActionAccepted,
	}
	if err := s.AppendFolderFeedback(fb); err != nil {
		t.Fatalf("append: %v", err)
	}
	if fb.ID == 0 {
		t.Error("folder feedback id not assigned")
	}

	rejected := &FolderFeedback{
		FolderName: "Misc",
		Category:   vault.Resources,
		Action:     FolderActionRejected,
		Reason:     "too vague",
		At:         fb.At.Add(time.Minute),
	}
	if err := s.AppendFolderFeedback(rejected); err != nil {
		t.Fatalf("append rejected: %v", err)
	}

	got, err := s.RecentFolderFeedback(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0].FolderName != "Misc" || got[0].Reason != "too vague" {
		t.Errorf("newest = %+v, want the rejection", got[0])
	}
	if got[1].FolderName != "Meeting Notes" || got[1].Category != vault.Areas {
		t.Errorf("oldest = %+v", got[1])
	}
	if len(got[1].Tags) != 2 || got[1].Tags[0] != "meetings" {
		t.Errorf("tags = %v", got[1].Tags)
	}
	if len(got[1].Patterns) != 2 || got[1].Patterns[1] != "sync" {
		t.Errorf("patterns = %v", got[1].Patterns)
	}
}
