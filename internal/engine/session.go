// Package engine wires the vault reader, semantic index, providers, and
// stores into one Session that the CLI and the MCP server drive. A session
// holds the index lock for its lifetime, so two parakeet processes cannot
// write the same vault's index at once.
package engine

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/embedding"
	"github.com/parakeet-labs/parakeet/internal/exclusion"
	"github.com/parakeet-labs/parakeet/internal/executor"
	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/fusion"
	"github.com/parakeet-labs/parakeet/internal/indexer"
	"github.com/parakeet-labs/parakeet/internal/learning"
	"github.com/parakeet-labs/parakeet/internal/llm"
	"github.com/parakeet-labs/parakeet/internal/planner"
	"github.com/parakeet-labs/parakeet/internal/snapshot"
	"github.com/parakeet-labs/parakeet/internal/store"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// Options configures a Session. Config is required. Embedder and Classifier
// override the providers built from config; tests use them to avoid real
// backends.
type Options struct {
	Config     *config.Config
	Log        *zap.Logger
	Embedder   embedding.Provider
	Classifier llm.Classifier
}

// Session bundles the collaborators one invocation needs. Providers that
// could not be built are left nil and every run degrades per signal instead
// of refusing to start.
type Session struct {
	cfg        *config.Config
	log        *zap.Logger
	vaultRoot  string
	reader     *vault.Reader
	registry   *exclusion.Registry
	index      *store.Store
	embedder   embedding.Provider
	classifier llm.Classifier
	fuser      *fusion.Fuser
	planner    *planner.Planner
	snaps      *snapshot.Store
	exec       *executor.Executor
	learn      *learning.Service
	unlock     func()

	confirmedEmptyExclusions bool
}

// NewSession validates the vault, takes the index lock, opens the index,
// and builds the pipeline. The caller must Close the session.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fault.New(fault.KindPrecondition, "session needs a loaded config")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	root, err := cfg.RequireVault()
	if err != nil {
		return nil, err
	}

	registry, err := exclusion.Open(filepath.Join(root, config.AppDirName), cfg.Exclusions, log)
	if err != nil {
		return nil, err
	}
	reader := vault.NewReader(root, registry.Contains, log)

	unlock, err := config.AcquireLock(cfg.IndexPath)
	if err != nil {
		return nil, err
	}
	index, err := store.Open(cfg.IndexPath, cfg.EmbeddingModel, config.EmbeddingDim(cfg.EmbeddingModel), log)
	if err != nil {
		unlock()
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		log:       log,
		vaultRoot: root,
		reader:    reader,
		registry:  registry,
		index:     index,
		unlock:    unlock,
	}

	if opts.Embedder != nil {
		s.embedder = opts.Embedder
	} else if p, err := embedding.NewProvider(ctx, cfg, log); err != nil {
		log.Warn("embedding provider unavailable, runs will degrade", zap.Error(err))
	} else {
		s.embedder = p
	}

	if opts.Classifier != nil {
		s.classifier = opts.Classifier
	} else if c, err := llm.NewClassifier(ctx, cfg, log); err != nil {
		log.Warn("llm classifier unavailable, runs will degrade", zap.Error(err))
	} else {
		s.classifier = c
	}

	s.learn = learning.NewService(index, cfg.IndexPath, cfg.RecentHistoryN, log)
	policy, err := s.learn.Policy()
	if err != nil {
		log.Warn("learning policy unreadable, using baseline weights", zap.Error(err))
		policy = fusion.Policy{}
	}
	s.fuser = fusion.New(policy, log)

	s.planner = planner.New(planner.Options{
		Reader:     reader,
		Index:      index,
		Embedder:   s.embedder,
		Classifier: s.classifier,
		Fuser:      s.fuser,
		NeighborK:  cfg.NeighborK,
		Log:        log,
	})

	s.snaps = snapshot.NewStore(root, cfg.SnapshotPath, registry.Contains, log)
	s.exec = executor.New(executor.Options{
		VaultRoot:  root,
		Index:      index,
		Snapshots:  s.snaps,
		AuditPath:  filepath.Join(cfg.IndexPath, executor.AuditFileName),
		AutoBackup: cfg.AutoBackup,
		Log:        log,
	})

	return s, nil
}

// Close closes the index and releases the index lock.
func (s *Session) Close() error {
	err := s.index.Close()
	s.unlock()
	return err
}

// Config returns the session's resolved configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// VaultRoot returns the validated vault root.
func (s *Session) VaultRoot() string { return s.vaultRoot }

// Reader returns the vault reader, wired to skip excluded subtrees.
func (s *Session) Reader() *vault.Reader { return s.reader }

// Index returns the open semantic index.
func (s *Session) Index() *store.Store { return s.index }

// Exclusions returns the exclusion registry.
func (s *Session) Exclusions() *exclusion.Registry { return s.registry }

// Snapshots returns the snapshot store.
func (s *Session) Snapshots() *snapshot.Store { return s.snaps }

// Learning returns the learning service.
func (s *Session) Learning() *learning.Service { return s.learn }

// Embedder returns the embedding provider, or nil when it failed to build.
func (s *Session) Embedder() embedding.Provider { return s.embedder }

// Classifier returns the LLM classifier, or nil when it failed to build.
func (s *Session) Classifier() llm.Classifier { return s.classifier }

// Degraded names the signals this session cannot gather because a provider
// failed to build: "embedding", "llm".
func (s *Session) Degraded() []string {
	var out []string
	if s.embedder == nil {
		out = append(out, "embedding")
	}
	if s.classifier == nil {
		out = append(out, "llm")
	}
	return out
}

// ConfirmEmptyExclusions records that the user explicitly accepted running
// without exclusions for the rest of this session.
func (s *Session) ConfirmEmptyExclusions() { s.confirmedEmptyExclusions = true }

// ExclusionsConfigured reports whether execute-mode plans may be built:
// the registry is non-empty, or the user waived it this session.
func (s *Session) ExclusionsConfigured() bool {
	return s.registry.Len() > 0 || s.confirmedEmptyExclusions
}

// PlanParams selects what a plan run covers.
type PlanParams struct {
	Scope       string
	Directive   string
	Execute     bool
	Consolidate bool
	FixNames    bool
	// MaxNotes caps the run; 0 falls back to the configured limit.
	MaxNotes int
}

// Plan refreshes the index incrementally and builds a plan. Execute-mode
// plans demand configured (or explicitly waived) exclusions.
func (s *Session) Plan(ctx context.Context, p PlanParams) (*planner.Plan, error) {
	scope, err := planner.ParseScope(p.Scope)
	if err != nil {
		return nil, err
	}

	if _, err := s.reindex(ctx, false, nil); err != nil {
		return nil, err
	}

	maxNotes := p.MaxNotes
	if maxNotes <= 0 {
		maxNotes = s.cfg.MaxNotesPerRun
	}
	mode := planner.ModeSimulate
	if p.Execute {
		mode = planner.ModeExecute
	}
	return s.planner.Build(ctx, planner.Request{
		Scope:                scope,
		Directive:            p.Directive,
		Mode:                 mode,
		Consolidate:          p.Consolidate,
		FixNames:             p.FixNames,
		ExclusionsConfigured: s.ExclusionsConfigured(),
		MaxNotes:             maxNotes,
	})
}

// Execute applies a plan, then refreshes the learning metrics so the next
// session's policy sees this run.
func (s *Session) Execute(ctx context.Context, plan *planner.Plan) (*executor.ExecutionReport, error) {
	report, err := s.exec.Execute(ctx, plan)
	if report != nil && len(report.Applied) > 0 {
		if _, lerr := s.learn.RecordSnapshot(); lerr != nil {
			s.log.Warn("learning snapshot failed", zap.Error(lerr))
		}
	}
	return report, err
}

// Reindex brings the index up to date with the vault. Force rebuilds from
// scratch, clearing the embed cache.
func (s *Session) Reindex(ctx context.Context, force bool, progress indexer.ProgressFunc) (*indexer.Stats, error) {
	return s.reindex(ctx, force, progress)
}

func (s *Session) reindex(ctx context.Context, force bool, progress indexer.ProgressFunc) (*indexer.Stats, error) {
	return indexer.Reindex(ctx, indexer.Options{
		Reader:   s.reader,
		Index:    s.index,
		Embedder: s.embedder,
		Force:    force,
		Progress: progress,
		Log:      s.log,
	})
}

// Feedback records a verdict on a past decision. Verdict is one of
// accept, reject, or correct; correct requires a PARA category.
func (s *Session) Feedback(decisionID, verdict, correctTo, notes string) (*store.Decision, error) {
	var v store.FeedbackVerdict
	switch verdict {
	case "accept", "accepted", "confirm":
		v = store.FeedbackAccepted
	case "reject", "rejected":
		v = store.FeedbackRejected
	case "correct", "corrected":
		v = store.FeedbackCorrected
	default:
		return nil, fault.Newf(fault.KindPrecondition, "unknown feedback verdict %q", verdict).
			WithHint("use accept, reject, or correct --to <category>")
	}

	var cat vault.Category
	if v == store.FeedbackCorrected {
		parsed, ok := vault.ParseCategory(correctTo)
		if !ok {
			return nil, fault.Newf(fault.KindPrecondition, "unknown category %q", correctTo).
				WithHint("categories are Projects, Areas, Resources, Archive")
		}
		cat = parsed
	}
	return s.learn.RecordFeedback(decisionID, v, cat, notes)
}
