// Package learning derives the system health metrics from the decision log,
// turns user feedback into the weight policy that fusion consumes, and
// handles knowledge export/import. The flow is one-way: this package reads
// the store and writes policy.toml; fusion only ever reads the policy.
package learning

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/fusion"
	"github.com/parakeet-labs/parakeet/internal/store"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

const (
	// defaultHistoryN is the metrics window when the config leaves
	// recent_history_n unset.
	defaultHistoryN = 1000
	// snapshotWindow is how many snapshots back the velocity slope looks.
	snapshotWindow = 10

	// Feedback rates inside [satisfactionLow, satisfactionHigh] score a
	// full user_satisfaction; the score decays linearly outside.
	satisfactionLow  = 0.05
	satisfactionHigh = 0.15

	// semanticEndorse is the neighbor share at which the semantic signal
	// counts as having backed a decision when crediting feedback.
	semanticEndorse = 0.5
)

// Service computes metrics and applies feedback over one index directory.
type Service struct {
	store    *store.Store
	indexDir string
	historyN int
	log      *zap.Logger
}

// NewService wires the learning layer over an open store. indexDir is where
// policy.toml lives; historyN bounds the metrics window (≤0 means the
// default of 1000).
func NewService(st *store.Store, indexDir string, historyN int, log *zap.Logger) *Service {
	if historyN <= 0 {
		historyN = defaultHistoryN
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, indexDir: indexDir, historyN: historyN, log: log}
}

// Status is the on-demand learning report.
type Status struct {
	Metrics       store.LearningSnapshot
	DecisionCount int
	FeedbackCount int
	IndexedNotes  int
	Categories    map[vault.Category]int
	Policy        fusion.Policy
	Patterns      []Pattern
}

// Policy loads the learned weight nudges, or the zero policy when none has
// been written yet.
func (s *Service) Policy() (fusion.Policy, error) {
	return LoadPolicy(s.indexDir)
}

// Status recomputes every derived metric over the recent window.
func (s *Service) Status() (*Status, error) {
	decisions, err := s.store.RecentDecisions(s.historyN)
	if err != nil {
		return nil, err
	}
	total, err := s.store.DecisionCount()
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.RecentLearningSnapshots(snapshotWindow)
	if err != nil {
		return nil, err
	}
	folderFB, err := s.store.RecentFolderFeedback(s.historyN)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.Count()
	if err != nil {
		return nil, err
	}
	policy, err := s.Policy()
	if err != nil {
		s.log.Warn("learned policy unreadable, treating as neutral", zap.Error(err))
		policy = fusion.Policy{}
	}

	metrics, fbCount := computeMetrics(decisions, snaps, policy)
	metrics.TotalClassifications = total

	st := &Status{
		Metrics:       *metrics,
		DecisionCount: total,
		FeedbackCount: fbCount,
		IndexedNotes:  notes,
		Categories:    categoryCounts(decisions),
		Policy:        policy,
		Patterns:      patternsOf(decisions, folderFB),
	}
	return st, nil
}

// RecordSnapshot computes the current metrics and appends them to the
// snapshot history. The engine calls this after each executed plan.
func (s *Service) RecordSnapshot() (*store.LearningSnapshot, error) {
	st, err := s.Status()
	if err != nil {
		return nil, err
	}
	snap := st.Metrics
	if err := s.store.AppendLearningSnapshot(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// RecordFeedback applies a user verdict to one decision, then recomputes
// the weight policy from the feedback window and persists it. Returns the
// updated decision.
func (s *Service) RecordFeedback(decisionID string, verdict store.FeedbackVerdict, correctedTo vault.Category, notes string) (*store.Decision, error) {
	d, err := s.store.GetDecision(decisionID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fault.Newf(fault.KindData, "decision %s not found", decisionID).
			WithHint("list recent decision ids with: parakeet learning status")
	}
	if err := s.store.SetFeedback(decisionID, verdict, correctedTo, notes); err != nil {
		return nil, err
	}
	if err := s.refreshPolicy(); err != nil {
		return nil, err
	}
	return s.store.GetDecision(decisionID)
}

// RecordFolderFeedback stores the user's verdict on one proposed folder
// name. Pattern scores pick it up on the next Status call.
func (s *Service) RecordFolderFeedback(fb *store.FolderFeedback) error {
	return s.store.AppendFolderFeedback(fb)
}

// refreshPolicy recomputes the weight nudges over the recent feedback and
// writes policy.toml.
func (s *Service) refreshPolicy() error {
	decisions, err := s.store.RecentDecisions(s.historyN)
	if err != nil {
		return err
	}
	policy := computeNudges(decisions)
	if err := SavePolicy(s.indexDir, policy); err != nil {
		return err
	}
	s.log.Info("learned policy updated",
		zap.Float64("semantic", policy.SemanticNudge),
		zap.Float64("llm", policy.LLMNudge),
		zap.Float64("rule", policy.RuleNudge))
	return nil
}

// computeNudges credits each signal for the decisions it backed: +1 per
// accepted verdict, -1 per rejection or correction, averaged over the
// feedback count and scaled to the ±MaxPolicyNudge bound.
func computeNudges(decisions []store.Decision) fusion.Policy {
	var fb int
	var sem, llm, rule float64
	for _, d := range decisions {
		if d.Feedback == "" {
			continue
		}
		fb++
		credit := -1.0
		if d.Feedback == store.FeedbackAccepted {
			credit = 1.0
		}
		if d.SemanticScore >= semanticEndorse {
			sem += credit
		}
		if d.LLMScore > 0 {
			llm += credit
		}
		if d.RuleScore > 0 {
			rule += credit
		}
	}
	if fb == 0 {
		return fusion.Policy{}
	}
	n := float64(fb)
	return fusion.Policy{
		SemanticNudge: fusion.MaxPolicyNudge * sem / n,
		LLMNudge:      fusion.MaxPolicyNudge * llm / n,
		RuleNudge:     fusion.MaxPolicyNudge * rule / n,
	}
}

// computeMetrics derives every health metric from the decision window, the
// snapshot history, and the current policy. Also returns the number of
// decisions carrying feedback.
func computeMetrics(decisions []store.Decision, snaps []store.LearningSnapshot, policy fusion.Policy) (*store.LearningSnapshot, int) {
	var fbCount, accepted int
	var confidences, correctness []float64
	var coherenceSum float64
	dist := map[vault.Category]int{}

	for _, d := range decisions {
		dist[d.Category]++
		coherenceSum += d.NeighborShare
		if d.Feedback == "" {
			continue
		}
		fbCount++
		correct := 0.0
		if d.Feedback == store.FeedbackAccepted {
			accepted++
			correct = 1.0
		}
		confidences = append(confidences, d.Confidence)
		correctness = append(correctness, correct)
	}

	accuracy := 0.0
	if fbCount > 0 {
		accuracy = float64(accepted) / float64(fbCount)
	}

	correlation := 0.5
	if r, ok := pearson(confidences, correctness); ok {
		correlation = clamp01((r + 1) / 2)
	}

	coherence := 0.0
	feedbackRate := 0.0
	if len(decisions) > 0 {
		coherence = coherenceSum / float64(len(decisions))
		feedbackRate = float64(fbCount) / float64(len(decisions))
	}

	m := &store.LearningSnapshot{
		TotalClassifications:  len(decisions),
		AccuracyRate:          accuracy,
		ConfidenceCorrelation: correlation,
		LearningVelocity:      velocityOf(snaps),
		CategoryBalance:       normalizedEntropy(dist),
		SemanticCoherence:     coherence,
		UserSatisfaction:      satisfactionOf(feedbackRate),
		SystemAdaptability:    adaptabilityOf(policy),
	}
	m.ImprovementScore = 0.25*m.AccuracyRate +
		0.15*m.ConfidenceCorrelation +
		0.10*m.CategoryBalance +
		0.15*m.SemanticCoherence +
		0.10*m.UserSatisfaction +
		0.15*m.LearningVelocity +
		0.10*m.SystemAdaptability
	return m, fbCount
}

func categoryCounts(decisions []store.Decision) map[vault.Category]int {
	dist := map[vault.Category]int{}
	for _, d := range decisions {
		dist[d.Category]++
	}
	return dist
}

// satisfactionOf maps the feedback rate to [0,1]: full inside the sweet
// band, linear ramps toward 0 at no feedback and at feedback on everything.
func satisfactionOf(rate float64) float64 {
	switch {
	case rate <= 0:
		return 0
	case rate < satisfactionLow:
		return rate / satisfactionLow
	case rate <= satisfactionHigh:
		return 1
	default:
		return clamp01(1 - (rate-satisfactionHigh)/(1-satisfactionHigh))
	}
}

// velocityOf maps the accuracy slope over the recent snapshots to [0,1]:
// 0.5 is flat or unknown, above is improving.
func velocityOf(snaps []store.LearningSnapshot) float64 {
	// Snapshots arrive newest first; the slope wants chronological order.
	ys := make([]float64, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		ys = append(ys, snaps[i].AccuracyRate)
	}
	m, ok := slope(ys)
	if !ok {
		return 0.5
	}
	return clamp01((m + 1) / 2)
}

// adaptabilityOf is the mean policy nudge magnitude relative to the bound:
// 0 for a static policy, 1 when every nudge sits at ±MaxPolicyNudge.
func adaptabilityOf(p fusion.Policy) float64 {
	mean := (math.Abs(p.SemanticNudge) + math.Abs(p.LLMNudge) + math.Abs(p.RuleNudge)) / 3
	return clamp01(mean / fusion.MaxPolicyNudge)
}

// normalizedEntropy is the entropy of the category distribution over the
// four destinations, scaled so a uniform spread scores 1.
func normalizedEntropy(dist map[vault.Category]int) float64 {
	total := 0
	for _, c := range vault.PARACategories {
		total += dist[c]
	}
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range vault.PARACategories {
		if n := dist[c]; n > 0 {
			p := float64(n) / float64(total)
			h -= p * math.Log(p)
		}
	}
	return h / math.Log(float64(len(vault.PARACategories)))
}

// pearson returns the correlation of two equal-length series, and false
// when it is undefined (fewer than two points or zero variance).
func pearson(xs, ys []float64) (float64, bool) {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0, false
	}
	n := float64(len(xs))
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}

// slope fits y over x=0..n-1 by least squares.
func slope(ys []float64) (float64, bool) {
	if len(ys) < 2 {
		return 0, false
	}
	n := float64(len(ys))
	var sx, sy, sxx, sxy float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, false
	}
	return (n*sxy - sx*sy) / den, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Pattern scores one (folder name, category) pair by how its proposals
// were received.
type Pattern struct {
	FolderName  string         `json:"folder_name"`
	Category    vault.Category `json:"category"`
	Uses        int            `json:"uses"`
	Accepted    int            `json:"accepted"`
	SuccessRate float64        `json:"success_rate"`
}

// patternsOf merges decision feedback and folder feedback into per-pattern
// success rates, most used first.
func patternsOf(decisions []store.Decision, folderFB []store.FolderFeedback) []Pattern {
	type key struct {
		name string
		cat  vault.Category
	}
	acc := map[key]*Pattern{}
	bump := func(name string, cat vault.Category, ok bool) {
		if name == "" {
			return
		}
		k := key{name, cat}
		p := acc[k]
		if p == nil {
			p = &Pattern{FolderName: name, Category: cat}
			acc[k] = p
		}
		p.Uses++
		if ok {
			p.Accepted++
		}
	}

	for _, d := range decisions {
		if d.Feedback == "" {
			continue
		}
		bump(d.FolderName, d.Category, d.Feedback == store.FeedbackAccepted)
	}
	for _, fb := range folderFB {
		bump(fb.FolderName, fb.Category, fb.Action == store.FolderActionAccepted)
	}

	out := make([]Pattern, 0, len(acc))
	for _, p := range acc {
		p.SuccessRate = float64(p.Accepted) / float64(p.Uses)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Uses != out[j].Uses {
			return out[i].Uses > out[j].Uses
		}
		if out[i].FolderName != out[j].FolderName {
			return out[i].FolderName < out[j].FolderName
		}
		return out[i].Category < out[j].Category
	})
	return out
}
