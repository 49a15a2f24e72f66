// Package fusion blends the semantic, LLM, and rule signals for a note into
// one category verdict with a confidence score. Signal weights start from a
// fixed base, shift with note and corpus characteristics and with the learned
// policy, and a verdict whose winning score misses the confidence floor is
// forced to Archive.
package fusion

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/feature"
	"github.com/parakeet-labs/parakeet/internal/llm"
	"github.com/parakeet-labs/parakeet/internal/naming"
	"github.com/parakeet-labs/parakeet/internal/rules"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// Method labels how a verdict was reached.
type Method string

const (
	MethodConsensus        Method = "consensus"
	MethodSemanticWeighted Method = "semantic_weighted"
	MethodLLMWeighted      Method = "llm_weighted"
	MethodRuleWeighted     Method = "rule_weighted"
	MethodSemanticOnly     Method = "semantic_only"
	MethodLLMOnly          Method = "llm_only"
	MethodRuleOnly         Method = "rule_only"
	MethodFallback         Method = "fallback"
)

// Outcome reports whether the verdict used every signal it wanted.
type Outcome string

const (
	// OutcomeOK means every available signal contributed normally.
	OutcomeOK Outcome = "ok"
	// OutcomeDegraded means at least one signal failed upstream and the
	// verdict was computed without it.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeFallback means no category cleared the confidence floor and
	// the note was routed to Archive.
	OutcomeFallback Outcome = "fallback"
)

const (
	// ConfidenceFloor is the minimum winning score for a verdict to stand.
	ConfidenceFloor = 0.4
	// MaxPolicyNudge bounds how far the learned policy can move any base
	// weight in a single session.
	MaxPolicyNudge = 0.1
)

// llmCertainty is the fixed score an LLM verdict contributes to its chosen
// category before weighting.
const llmCertainty = 0.9

// Weight adjustment thresholds.
const (
	highAgreement    = 0.8
	lowAgreement     = 0.3
	longNoteWords    = 500
	shortNoteWords   = 50
	sparseIndexCount = 20

	minWeight = 0.1
	maxWeight = 0.9

	// Scores within epsilon of the floor survive; the weight arithmetic
	// can land exactly on the floor after renormalization.
	floorEpsilon = 1e-9
)

var baseWeights = Weights{Semantic: 0.5, LLM: 0.3, Rule: 0.2}

// Weights is the normalized share each signal holds in the blend.
type Weights struct {
	Semantic float64 `json:"semantic"`
	LLM      float64 `json:"llm"`
	Rule     float64 `json:"rule"`
}

// Policy carries the learned per-signal weight nudges applied on top of the
// base weights. Nudges outside ±MaxPolicyNudge are clamped on construction.
type Policy struct {
	SemanticNudge float64 `json:"semantic_nudge"`
	LLMNudge      float64 `json:"llm_nudge"`
	RuleNudge     float64 `json:"rule_nudge"`
}

// IsZero reports whether the policy nudges nothing.
func (p Policy) IsZero() bool {
	return p == Policy{}
}

func (p Policy) clamped() Policy {
	return Policy{
		SemanticNudge: clampNudge(p.SemanticNudge),
		LLMNudge:      clampNudge(p.LLMNudge),
		RuleNudge:     clampNudge(p.RuleNudge),
	}
}

func clampNudge(n float64) float64 {
	if n > MaxPolicyNudge {
		return MaxPolicyNudge
	}
	if n < -MaxPolicyNudge {
		return -MaxPolicyNudge
	}
	return n
}

// Inputs gathers everything known about one note at decision time. Note and
// Features must be set; the three signals may each be absent.
type Inputs struct {
	Note     *vault.Note
	Features *feature.Vector

	// Semantic holds the neighbor vote share per category from the index
	// search, each in [0,1]. Nil or all-zero when no neighbors were found.
	Semantic map[vault.Category]float64
	// LLM is the classifier verdict, nil when the classifier failed or
	// was skipped.
	LLM *llm.Result
	// Rules holds the heuristic votes for the note.
	Rules []rules.Vote

	// IndexCount is the number of notes in the semantic index when the
	// session started.
	IndexCount int
	// Degraded names signals that failed upstream, such as "embedding"
	// or "llm".
	Degraded []string
}

// Result is the fused verdict for one note.
type Result struct {
	Category   vault.Category
	FolderName string
	Confidence float64
	Method     Method
	Outcome    Outcome
	Weights    Weights

	// SemanticScore, LLMScore, and RuleScore decompose the winning
	// candidate's raw signal terms before weighting. When the verdict
	// fell back to Archive they still describe the original winner.
	SemanticScore float64
	LLMScore      float64
	RuleScore     float64

	// Factors lists the weight adjustments that fired.
	Factors []string
	// Degraded echoes Inputs.Degraded.
	Degraded  []string
	Reasoning string
}

// Fuser computes verdicts under one session's policy.
type Fuser struct {
	policy Policy
	log    *zap.Logger
}

// New returns a Fuser applying policy, clamped to ±MaxPolicyNudge.
func New(policy Policy, log *zap.Logger) *Fuser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fuser{policy: policy.clamped(), log: log}
}

// Fuse blends the inputs into a verdict. It never fails: with no usable
// signal the note is routed to Archive with confidence zero.
func (f *Fuser) Fuse(in *Inputs) *Result {
	hasSem := topShare(in.Semantic) > 0
	hasLLM := in.LLM != nil
	hasRule := len(in.Rules) > 0

	w, factors := f.weigh(in)

	winner := vault.PARACategories[0]
	best := score(in, w, winner)
	for _, c := range vault.PARACategories[1:] {
		if s := score(in, w, c); s > best {
			winner, best = c, s
		}
	}

	method := pickMethod(in, w, winner, hasSem, hasLLM, hasRule)
	outcome := OutcomeOK
	if len(in.Degraded) > 0 {
		outcome = OutcomeDegraded
	}

	category := winner
	if best < ConfidenceFloor-floorEpsilon {
		method = MethodFallback
		outcome = OutcomeFallback
		category = vault.Archive
	}

	suggestion := ""
	if in.LLM != nil && in.LLM.Category == category {
		suggestion = in.LLM.FolderName
	}

	res := &Result{
		Category:      category,
		FolderName:    naming.ForNote(suggestion, in.Note, category),
		Confidence:    best,
		Method:        method,
		Outcome:       outcome,
		Weights:       w,
		SemanticScore: in.Semantic[winner],
		LLMScore:      llmTerm(in.LLM, winner),
		RuleScore:     ruleTerm(in.Rules, winner),
		Factors:       factors,
		Degraded:      in.Degraded,
	}
	res.Reasoning = explain(in, res, w, winner)

	f.log.Debug("fused verdict",
		zap.String("note", in.Note.RelPath),
		zap.String("category", string(category)),
		zap.Float64("confidence", best),
		zap.String("method", string(method)),
		zap.Float64("w_sem", w.Semantic),
		zap.Float64("w_llm", w.LLM),
		zap.Float64("w_rule", w.Rule))
	return res
}

// weigh derives the session weights for one note: base weights, learned
// policy, then the signal-quality adjustments, clamped per weight and
// renormalized to sum 1.
func (f *Fuser) weigh(in *Inputs) (Weights, []string) {
	w := baseWeights
	var factors []string

	if !f.policy.IsZero() {
		w.Semantic += f.policy.SemanticNudge
		w.LLM += f.policy.LLMNudge
		w.Rule += f.policy.RuleNudge
		factors = append(factors, "learned_policy")
	}

	// Agreement is the top category's share of neighbor votes. An empty
	// neighborhood counts as zero agreement and takes the penalty.
	switch agreement := topShare(in.Semantic); {
	case agreement > highAgreement:
		w.Semantic += 0.2
		factors = append(factors, "semantic_agreement_high")
	case agreement < lowAgreement:
		w.Semantic -= 0.2
		factors = append(factors, "semantic_agreement_low")
	}

	if in.Features != nil {
		switch {
		case in.Features.WordCount > longNoteWords:
			w.LLM += 0.1
			factors = append(factors, "long_note")
		case in.Features.WordCount < shortNoteWords:
			w.Semantic += 0.1
			factors = append(factors, "short_note")
		}
		if len(in.Features.DirectiveKeywords) > 0 {
			w.LLM += 0.2
			factors = append(factors, "directive_keyword")
		}
	}

	if rules.HasStrong(in.Rules) {
		w.Rule += 0.2
		factors = append(factors, "strong_rule")
	}

	if in.IndexCount < sparseIndexCount {
		w.LLM += 0.15
		w.Semantic -= 0.15
		factors = append(factors, "sparse_index")
	}

	w.Semantic = clampWeight(w.Semantic)
	w.LLM = clampWeight(w.LLM)
	w.Rule = clampWeight(w.Rule)

	sum := w.Semantic + w.LLM + w.Rule
	w.Semantic /= sum
	w.LLM /= sum
	w.Rule /= sum
	return w, factors
}

func clampWeight(w float64) float64 {
	if w < minWeight {
		return minWeight
	}
	if w > maxWeight {
		return maxWeight
	}
	return w
}

func score(in *Inputs, w Weights, c vault.Category) float64 {
	return w.Semantic*in.Semantic[c] + w.LLM*llmTerm(in.LLM, c) + w.Rule*ruleTerm(in.Rules, c)
}

func llmTerm(r *llm.Result, c vault.Category) float64 {
	if r != nil && r.Category == c {
		return llmCertainty
	}
	return 0
}

// ruleTerm sums the rule votes for c, capped at 1 so stacked rules cannot
// push a score past the confidence scale.
func ruleTerm(votes []rules.Vote, c vault.Category) float64 {
	s := rules.SumFor(votes, c)
	if s > 1 {
		s = 1
	}
	return s
}

func topShare(shares map[vault.Category]float64) float64 {
	best := 0.0
	for _, s := range shares {
		if s > best {
			best = s
		}
	}
	return best
}

func topCategory(shares map[vault.Category]float64) vault.Category {
	top := vault.Unknown
	best := 0.0
	for _, c := range vault.PARACategories {
		if shares[c] > best {
			top, best = c, shares[c]
		}
	}
	return top
}

func topRuleCategory(votes []rules.Vote) vault.Category {
	top := vault.Unknown
	best := 0.0
	for _, c := range vault.PARACategories {
		if s := rules.SumFor(votes, c); s > best {
			top, best = c, s
		}
	}
	return top
}

func pickMethod(in *Inputs, w Weights, winner vault.Category, hasSem, hasLLM, hasRule bool) Method {
	present := 0
	for _, has := range []bool{hasSem, hasLLM, hasRule} {
		if has {
			present++
		}
	}
	if present == 1 {
		switch {
		case hasSem:
			return MethodSemanticOnly
		case hasLLM:
			return MethodLLMOnly
		default:
			return MethodRuleOnly
		}
	}
	if present == 3 &&
		topCategory(in.Semantic) == winner &&
		in.LLM.Category == winner &&
		topRuleCategory(in.Rules) == winner {
		return MethodConsensus
	}

	sem := w.Semantic * in.Semantic[winner]
	lt := w.LLM * llmTerm(in.LLM, winner)
	rt := w.Rule * ruleTerm(in.Rules, winner)
	switch {
	case sem >= lt && sem >= rt:
		return MethodSemanticWeighted
	case lt >= rt:
		return MethodLLMWeighted
	default:
		return MethodRuleWeighted
	}
}

// explain assembles the reasoning string: the method, the two largest
// weighted contributors, strong rule rationales for the winner, directive
// keywords when they shifted weights, and the LLM's own sentence when it
// agreed with the verdict.
func explain(in *Inputs, res *Result, w Weights, winner vault.Category) string {
	if res.Method == MethodFallback {
		return fmt.Sprintf("fallback; best candidate %s scored %.2f, below the %.2f confidence floor",
			winner, res.Confidence, ConfidenceFloor)
	}

	parts := []string{string(res.Method)}

	type contrib struct {
		name string
		term float64
	}
	contribs := []contrib{
		{"semantic", w.Semantic * in.Semantic[winner]},
		{"llm", w.LLM * llmTerm(in.LLM, winner)},
		{"rules", w.Rule * ruleTerm(in.Rules, winner)},
	}
	sort.SliceStable(contribs, func(i, j int) bool { return contribs[i].term > contribs[j].term })
	var top []string
	for _, c := range contribs[:2] {
		if c.term > 0 {
			top = append(top, fmt.Sprintf("%s %.2f", c.name, c.term))
		}
	}
	if len(top) > 0 {
		parts = append(parts, "top signals: "+strings.Join(top, ", "))
	}

	var strong []string
	for _, v := range in.Rules {
		if v.Strong() && v.Category == winner {
			strong = append(strong, v.Rationale)
		}
	}
	if len(strong) > 0 {
		parts = append(parts, "rules: "+strings.Join(strong, "; "))
	}

	if in.Features != nil && len(in.Features.DirectiveKeywords) > 0 {
		parts = append(parts, "directive keywords: "+strings.Join(in.Features.DirectiveKeywords, ", "))
	}

	if in.LLM != nil && in.LLM.Category == winner && in.LLM.Reasoning != "" {
		parts = append(parts, in.LLM.Reasoning)
	}

	return strings.Join(parts, "; ")
}
