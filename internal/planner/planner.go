// Package planner builds move plans. It gathers the semantic, LLM, and
// rule signals for every note in scope, fuses them into per-note verdicts,
// and turns the verdicts into a scored, risk-rated list of proposed moves.
// A plan is plain data; applying one is the executor's job, and building
// one never writes to the vault or the index.
package planner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parakeet-labs/parakeet/internal/embedding"
	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/feature"
	"github.com/parakeet-labs/parakeet/internal/fusion"
	"github.com/parakeet-labs/parakeet/internal/llm"
	"github.com/parakeet-labs/parakeet/internal/naming"
	"github.com/parakeet-labs/parakeet/internal/rules"
	"github.com/parakeet-labs/parakeet/internal/store"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// Mode distinguishes a dry run from a plan built to be applied.
type Mode string

const (
	ModeSimulate Mode = "simulate"
	ModeExecute  Mode = "execute"
)

// Risk rates how much a plan should be second-guessed before applying.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Plan-level action labels for moves that carry no classification verdict.
const (
	MethodFixNames      = "fix_names"
	MethodConsolidation = "consolidation"
)

const defaultNeighborK = 5

// Action is one proposed move.
type Action struct {
	NoteID       string         `json:"note_id"`
	FromPath     string         `json:"from_path"`
	ToPath       string         `json:"to_path"`
	CreateFolder bool           `json:"create_folder,omitempty"`
	FromCategory vault.Category `json:"from_category"`
	Category     vault.Category `json:"category"`
	FolderName   string         `json:"folder_name"`
	Confidence   float64        `json:"confidence"`
	Method       string         `json:"method"`
	Reasoning    string         `json:"reasoning,omitempty"`

	// Decision is the classification record behind the move, appended to
	// the learning store when the action is applied. Nil for fix-names
	// and consolidation moves.
	Decision *store.Decision `json:"-"`
}

// ConfidenceBuckets counts actions by confidence band.
type ConfidenceBuckets struct {
	Low  int `json:"low"`  // < 0.4
	Mid  int `json:"mid"`  // 0.4 to 0.7
	High int `json:"high"` // > 0.7
}

// Summary aggregates a plan for display and risk gating.
type Summary struct {
	NotesScanned  int                    `json:"notes_scanned"`
	Capped        int                    `json:"capped,omitempty"` // notes dropped by max_notes_per_run
	IndexedNotes  int                    `json:"indexed_notes"`
	Moves         int                    `json:"moves"`
	Unchanged     int                    `json:"unchanged"`
	ByCategory    map[vault.Category]int `json:"by_category,omitempty"`
	ByMethod      map[string]int         `json:"by_method,omitempty"`
	Confidence    ConfidenceBuckets      `json:"confidence"`
	CrossCategory int                    `json:"cross_category_moves"`
	Risk          Risk                   `json:"risk"`
	EstimatedTime time.Duration          `json:"estimated_duration"`
	BackupNeeded  bool                   `json:"backup_required"`
}

// Plan is the ordered move proposal for one scope.
type Plan struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Directive string    `json:"directive,omitempty"`
	Mode      Mode      `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	Actions   []Action  `json:"actions"`
	// CleanupDirs are consolidation sources the executor removes after
	// the moves, and only if emptied.
	CleanupDirs []string `json:"cleanup_dirs,omitempty"`
	Summary     Summary  `json:"summary"`
	// Degraded names signals that failed for at least one note, such as
	// "embedding" or "llm".
	Degraded []string `json:"degraded,omitempty"`
}

// Request parameterizes one plan build.
type Request struct {
	Scope     Scope
	Directive string
	Mode      Mode
	// Consolidate authorizes sibling-folder consolidation moves.
	Consolidate bool
	// FixNames authorizes moves that repair folder names breaking the
	// naming rules. Without it user folders are never touched.
	FixNames bool
	// ExclusionsConfigured is the session gate for execute-mode plans:
	// the registry is non-empty or the user confirmed an empty one.
	ExclusionsConfigured bool
	// MaxNotes caps how many notes the plan covers, 0 for no cap.
	MaxNotes int
}

// Options wires a Planner. Reader, Index, and Fuser are required;
// a nil Embedder or Classifier runs every note with that signal degraded.
type Options struct {
	Reader     *vault.Reader
	Index      *store.Store
	Embedder   embedding.Provider
	Classifier llm.Classifier
	Fuser      *fusion.Fuser
	NeighborK  int
	Workers    int
	Log        *zap.Logger
}

// Planner builds plans for one session.
type Planner struct {
	reader     *vault.Reader
	index      *store.Store
	embedder   embedding.Provider
	classifier llm.Classifier
	fuser      *fusion.Fuser
	neighborK  int
	workers    int
	log        *zap.Logger
}

// New returns a Planner over opts.
func New(opts Options) *Planner {
	if opts.NeighborK <= 0 {
		opts.NeighborK = defaultNeighborK
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Planner{
		reader:     opts.Reader,
		index:      opts.Index,
		embedder:   opts.Embedder,
		classifier: opts.Classifier,
		fuser:      opts.Fuser,
		neighborK:  opts.NeighborK,
		workers:    opts.Workers,
		log:        opts.Log,
	}
}

// signals is everything gathered for one note before fusion.
type signals struct {
	note     *vault.Note
	feats    *feature.Vector
	semantic map[vault.Category]float64
	llmRes   *llm.Result
	degraded []string
}

// Build produces a plan for req. Signal gathering runs in parallel
// bounded by the worker count; verdicts and move proposals are then
// built sequentially in note order, so two builds over an unchanged
// vault propose the same action set. Cancellation aborts between notes.
func (p *Planner) Build(ctx context.Context, req Request) (*Plan, error) {
	if req.Mode == "" {
		req.Mode = ModeSimulate
	}
	if req.Mode == ModeExecute && !req.ExclusionsConfigured {
		return nil, fault.New(fault.KindPrecondition, "exclusions not configured for this session").
			WithHint("add paths with 'parakeet exclusions add <path>', or explicitly confirm the empty registry")
	}

	root := p.reader.Root()
	all, err := p.reader.List(ctx, false)
	if err != nil {
		return nil, err
	}
	var notes []*vault.Note
	for _, n := range all {
		if req.Scope.Matches(root, n) {
			notes = append(notes, n)
		}
	}
	capped := 0
	if req.MaxNotes > 0 && len(notes) > req.MaxNotes {
		capped = len(notes) - req.MaxNotes
		notes = notes[:req.MaxNotes]
		p.log.Info("note list capped", zap.Int("kept", len(notes)), zap.Int("dropped", capped))
	}

	indexCount, err := p.index.VectorCount()
	if err != nil {
		return nil, err
	}

	extractor := feature.New(req.Directive)
	sigs := make([]*signals, len(notes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, n := range notes {
		g.Go(func() error {
			s, err := p.gather(gctx, n, extractor, req.Directive)
			if err != nil {
				return err
			}
			sigs[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		Scope:     req.Scope.String(),
		Directive: req.Directive,
		Mode:      req.Mode,
		CreatedAt: time.Now().UTC(),
	}
	degraded := map[string]bool{}
	moved := map[string]bool{}
	var classActions, fixActions []*Action
	unchanged := 0

	for _, s := range sigs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		votes := rules.Evaluate(s.feats)
		verdict := p.fuser.Fuse(&fusion.Inputs{
			Note:       s.note,
			Features:   s.feats,
			Semantic:   s.semantic,
			LLM:        s.llmRes,
			Rules:      votes,
			IndexCount: indexCount,
			Degraded:   s.degraded,
		})
		for _, d := range s.degraded {
			degraded[d] = true
		}

		decision := &store.Decision{
			NoteID:        s.note.RelPath,
			Category:      verdict.Category,
			FolderName:    verdict.FolderName,
			Confidence:    verdict.Confidence,
			Method:        string(verdict.Method),
			SemanticScore: verdict.SemanticScore,
			LLMScore:      verdict.LLMScore,
			RuleScore:     verdict.RuleScore,
			Weights: store.Weights{
				Semantic: verdict.Weights.Semantic,
				LLM:      verdict.Weights.LLM,
				Rule:     verdict.Weights.Rule,
			},
			Reasoning:     verdict.Reasoning,
			Factors:       verdict.Factors,
			NeighborShare: s.semantic[verdict.Category],
		}

		if a := p.proposeMove(s.note, decision); a != nil {
			moved[a.NoteID] = true
			classActions = append(classActions, a)
			continue
		}
		if req.FixNames {
			if a := p.proposeNameFix(s.note); a != nil {
				moved[a.NoteID] = true
				fixActions = append(fixActions, a)
				continue
			}
		}
		unchanged++
	}

	// Classification moves come first, in note order; name fixes and
	// consolidations follow.
	for _, a := range classActions {
		plan.Actions = append(plan.Actions, *a)
	}
	for _, a := range fixActions {
		plan.Actions = append(plan.Actions, *a)
	}

	if req.Consolidate {
		actions, cleanup := consolidationActions(root, notes, consolidationCategories(req.Scope), moved)
		for _, a := range actions {
			plan.Actions = append(plan.Actions, *a)
		}
		plan.CleanupDirs = cleanup
	}

	plan.Degraded = sortedKeys(degraded)
	plan.Summary = p.summarize(plan, classActions, len(notes), capped, indexCount, unchanged, req.Mode)

	p.log.Info("plan built",
		zap.String("plan", plan.ID),
		zap.String("scope", plan.Scope),
		zap.Int("notes", len(notes)),
		zap.Int("moves", len(plan.Actions)),
		zap.String("risk", string(plan.Summary.Risk)))
	return plan, nil
}

// gather collects the per-note signals. Failures of the embedder, the
// index search, or the classifier degrade the note instead of failing
// the build; only cancellation propagates.
func (p *Planner) gather(ctx context.Context, n *vault.Note, ex *feature.Extractor, directive string) (*signals, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &signals{note: n}
	s.feats = ex.Extract(n)

	if p.embedder == nil {
		s.degraded = append(s.degraded, "embedding")
	} else {
		vec, err := p.embedder.Embed(ctx, embedding.NoteText(n), embedding.PurposeQuery)
		if err != nil {
			if fault.KindOf(err) == fault.KindCancelled {
				return nil, err
			}
			p.log.Warn("embedding degraded", zap.String("note", n.RelPath), zap.Error(err))
			s.degraded = append(s.degraded, "embedding")
		} else {
			counts, err := p.index.CategoryOfNeighbors(vec, p.neighborK)
			if err != nil {
				p.log.Warn("neighbor search failed", zap.String("note", n.RelPath), zap.Error(err))
				s.degraded = append(s.degraded, "semantic")
			} else if total := countSum(counts); total > 0 {
				shares := make(map[vault.Category]float64, len(counts))
				for cat, c := range counts {
					shares[cat] = float64(c) / float64(total)
				}
				s.semantic = shares
			}
		}
	}

	if p.classifier == nil {
		s.degraded = append(s.degraded, "llm")
	} else {
		res, err := p.classifier.Classify(ctx, &llm.Request{
			Note:      n,
			Directive: directive,
			Variant:   variantFor(n),
		})
		if err != nil {
			if fault.KindOf(err) == fault.KindCancelled {
				return nil, err
			}
			p.log.Warn("llm degraded", zap.String("note", n.RelPath), zap.Error(err))
			s.degraded = append(s.degraded, "llm")
		} else {
			s.llmRes = res
		}
	}
	return s, nil
}

// proposeMove turns a verdict into a move action when the predicted
// category differs from where the note sits.
func (p *Planner) proposeMove(n *vault.Note, d *store.Decision) *Action {
	if d.Category == n.Category {
		return nil
	}
	toDir := filepath.Join(p.reader.Root(), d.Category.Folder(), d.FolderName)
	to := filepath.Join(toDir, filepath.Base(n.Path))
	if to == n.Path {
		return nil
	}
	return &Action{
		NoteID:       n.RelPath,
		FromPath:     n.Path,
		ToPath:       to,
		CreateFolder: missingDir(toDir),
		FromCategory: n.Category,
		Category:     d.Category,
		FolderName:   d.FolderName,
		Confidence:   d.Confidence,
		Method:       d.Method,
		Reasoning:    d.Reasoning,
		Decision:     d,
	}
}

// proposeNameFix repairs a folder whose name breaks the naming rules.
// Valid user folders are never touched.
func (p *Planner) proposeNameFix(n *vault.Note) *Action {
	if n.Folder == "" || naming.Valid(n.Folder) {
		return nil
	}
	fixed := naming.Normalize(n.Folder)
	if fixed == "" || fixed == n.Folder || !naming.Valid(fixed) {
		return nil
	}
	toDir := filepath.Join(p.reader.Root(), n.Category.Folder(), fixed)
	to := filepath.Join(toDir, filepath.Base(n.Path))
	if to == n.Path {
		return nil
	}
	return &Action{
		NoteID:       n.RelPath,
		FromPath:     n.Path,
		ToPath:       to,
		CreateFolder: missingDir(toDir),
		FromCategory: n.Category,
		Category:     n.Category,
		FolderName:   fixed,
		Confidence:   1,
		Method:       MethodFixNames,
		Reasoning:    "folder name breaks the naming rules",
	}
}

// variantFor picks the prompt framing: archive notes are judged as "keep
// here or move out", everything else as inbox triage.
func variantFor(n *vault.Note) string {
	if n.Category == vault.Archive {
		return llm.VariantRefactor
	}
	return llm.VariantInbox
}

func (p *Planner) summarize(plan *Plan, classActions []*Action, scanned, capped, indexCount, unchanged int, mode Mode) Summary {
	s := Summary{
		NotesScanned: scanned,
		Capped:       capped,
		IndexedNotes: indexCount,
		Moves:        len(plan.Actions),
		Unchanged:    unchanged,
		ByCategory:   map[vault.Category]int{},
		ByMethod:     map[string]int{},
		BackupNeeded: mode == ModeExecute,
	}
	for _, a := range plan.Actions {
		s.ByCategory[a.Category]++
		s.ByMethod[a.Method]++
		switch {
		case a.Confidence < fusion.ConfidenceFloor:
			s.Confidence.Low++
		case a.Confidence > 0.7:
			s.Confidence.High++
		default:
			s.Confidence.Mid++
		}
		if crossCategory(a) {
			s.CrossCategory++
		}
	}
	s.Risk = riskOf(classActions)
	s.EstimatedTime = estimateDuration(len(plan.Actions))
	return s
}

// riskOf rates the classification moves. Mechanical fix-names and
// consolidation actions carry no verdict and stay out of the ratios.
func riskOf(actions []*Action) Risk {
	n := len(actions)
	if n == 0 {
		return RiskLow
	}
	var low, fallback, consensus, cross int
	for _, a := range actions {
		if a.Confidence < fusion.ConfidenceFloor {
			low++
		}
		switch a.Method {
		case string(fusion.MethodFallback):
			fallback++
		case string(fusion.MethodConsensus):
			consensus++
		}
		if crossCategory(*a) {
			cross++
		}
	}
	share := func(c int) float64 { return float64(c) / float64(n) }
	lowS, fbS, conS, crS := share(low), share(fallback), share(consensus), share(cross)
	switch {
	case lowS > 0.5 || fbS > 0.5 || conS < 0.3 || crS > 0.3:
		return RiskHigh
	case lowS > 0.25 || fbS > 0.25 || conS < 0.6 || crS > 0.15:
		return RiskMedium
	default:
		return RiskLow
	}
}

// crossCategory reports a move between two PARA buckets. Filing out of
// the inbox is the normal flow, not a cross-category move.
func crossCategory(a Action) bool {
	if a.FromCategory == vault.Inbox || a.FromCategory == vault.Unknown {
		return false
	}
	return a.FromCategory != a.Category
}

// estimateDuration is a coarse wall-clock guess: a snapshot floor plus a
// per-move cost.
func estimateDuration(moves int) time.Duration {
	return 500*time.Millisecond + time.Duration(moves)*25*time.Millisecond
}

func missingDir(path string) bool {
	_, err := os.Stat(path)
	return err != nil
}

func countSum(m map[vault.Category]int) int {
	total := 0
	for _, c := range m {
		total += c
	}
	return total
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
