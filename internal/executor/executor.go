// Package executor applies move plans. A snapshot is taken before the
// first move; moves then run in plan order, each one re-keying the index
// row and appending the decision record behind it. A single file that
// cannot be moved is logged and skipped and the run continues; a store
// failure stops the run, because moves the index cannot track are worse
// than an unfinished plan. Either way the caller gets a report with the
// snapshot id to roll back to.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/planner"
	"github.com/parakeet-labs/parakeet/internal/snapshot"
	"github.com/parakeet-labs/parakeet/internal/store"
)

// AuditFileName is the JSONL audit trail, one line per attempted action,
// kept under the index directory.
const AuditFileName = "audit.jsonl"

// ActionOutcome is the result of one attempted action.
type ActionOutcome struct {
	NoteID    string    `json:"note_id"`
	FromPath  string    `json:"from_path"`
	ToPath    string    `json:"to_path"`
	Method    string    `json:"method"`
	AppliedAt time.Time `json:"applied_at"`
	Error     string    `json:"error,omitempty"`
}

// ExecutionReport is returned by Execute whether the plan finished or
// not. Partial is set when any action failed or the run stopped early;
// SnapshotID names the backup to restore for a full rollback.
type ExecutionReport struct {
	PlanID      string          `json:"plan_id"`
	Scope       string          `json:"scope"`
	SnapshotID  string          `json:"snapshot_id"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Applied     []ActionOutcome `json:"applied"`
	Failed      []ActionOutcome `json:"failed,omitempty"`
	RemovedDirs []string        `json:"removed_dirs,omitempty"`
	Partial     bool            `json:"partial"`
}

// Options wires an Executor. An empty AuditPath disables the audit trail.
type Options struct {
	VaultRoot  string
	Index      *store.Store
	Snapshots  *snapshot.Store
	AuditPath  string
	AutoBackup bool
	Log        *zap.Logger
}

// Executor applies plans against one vault.
type Executor struct {
	root       string
	index      *store.Store
	snaps      *snapshot.Store
	auditPath  string
	autoBackup bool
	now        func() time.Time
	log        *zap.Logger
}

// New returns an Executor over opts.
func New(opts Options) *Executor {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Executor{
		root:       opts.VaultRoot,
		index:      opts.Index,
		snaps:      opts.Snapshots,
		auditPath:  opts.AuditPath,
		autoBackup: opts.AutoBackup,
		now:        time.Now,
		log:        opts.Log,
	}
}

// Execute applies plan. The returned report is non-nil once the snapshot
// exists, even when the error is too: a cancelled or stopped run still
// says what it did. Partial completion surfaces as a partial-kind fault
// alongside the report.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan) (*ExecutionReport, error) {
	if plan == nil || len(plan.Actions) == 0 {
		return nil, fault.New(fault.KindPrecondition, "plan has no actions")
	}
	if plan.Mode != planner.ModeExecute {
		return nil, fault.New(fault.KindPrecondition, "plan was built in simulate mode").
			WithHint("rebuild it in execute mode, or run 'parakeet apply'")
	}
	if !e.autoBackup {
		return nil, fault.New(fault.KindPrecondition, "auto_backup is disabled, refusing to move files without a snapshot").
			WithHint("set auto_backup to true in parakeet.json")
	}
	if err := e.index.Integrity(); err != nil {
		return nil, err
	}

	man, err := e.snaps.Create(ctx, plan.Scope)
	if err != nil {
		return nil, fmt.Errorf("snapshot before plan %s: %w", plan.ID, err)
	}

	report := &ExecutionReport{
		PlanID:     plan.ID,
		Scope:      plan.Scope,
		SnapshotID: man.ID,
		StartedAt:  e.now().UTC(),
	}
	audit := e.openAudit()
	defer audit.close()

	total := len(plan.Actions)
	for i := range plan.Actions {
		a := &plan.Actions[i]
		if err := ctx.Err(); err != nil {
			e.finish(report, total)
			return report, err
		}

		out, fatal := e.apply(a)
		if fatal != nil {
			out.Error = fatal.Error()
		}
		audit.record(auditLine{
			PlanID:     plan.ID,
			SnapshotID: man.ID,
			NoteID:     out.NoteID,
			From:       out.FromPath,
			To:         out.ToPath,
			Method:     out.Method,
			Error:      out.Error,
		})
		if out.Error != "" {
			report.Failed = append(report.Failed, out)
		} else {
			report.Applied = append(report.Applied, out)
		}
		if fatal != nil {
			e.finish(report, total)
			return report, fmt.Errorf("plan %s stopped after %d of %d actions, restore with snapshot %s: %w",
				plan.ID, len(report.Applied), total, man.ID, fatal)
		}
	}

	report.RemovedDirs = e.cleanup(plan.CleanupDirs)
	e.finish(report, total)

	e.log.Info("plan applied",
		zap.String("plan", plan.ID),
		zap.String("snapshot", man.ID),
		zap.Int("applied", len(report.Applied)),
		zap.Int("failed", len(report.Failed)))

	if report.Partial {
		return report, fault.Newf(fault.KindPartial, "%d of %d moves failed", len(report.Failed), total).
			WithHint("failed actions are listed in the report; 'parakeet snapshot restore " + man.ID + "' undoes the rest")
	}
	return report, nil
}

// apply runs one action. Per-file problems land in the outcome's Error
// field and the plan continues; the returned error is fatal and stops it.
func (e *Executor) apply(a *planner.Action) (ActionOutcome, error) {
	out := ActionOutcome{NoteID: a.NoteID, FromPath: a.FromPath, ToPath: a.ToPath, Method: a.Method}

	if err := os.MkdirAll(filepath.Dir(a.ToPath), 0o755); err != nil {
		out.Error = err.Error()
		e.log.Warn("create target folder failed", zap.String("note", a.NoteID), zap.Error(err))
		return out, nil
	}
	dest, err := freeDestination(a.ToPath)
	if err != nil {
		out.Error = err.Error()
		e.log.Warn("no destination name available", zap.String("note", a.NoteID), zap.Error(err))
		return out, nil
	}
	if err := os.Rename(a.FromPath, dest); err != nil {
		out.Error = err.Error()
		e.log.Warn("move failed", zap.String("note", a.NoteID), zap.Error(err))
		return out, nil
	}
	out.ToPath = dest
	out.AppliedAt = e.now().UTC()

	newID := relID(e.root, dest)
	if err := e.index.Rekey(a.NoteID, newID, dest, a.Category, a.FolderName); err != nil {
		if fault.KindOf(err) != fault.KindData {
			return out, err
		}
		// Not indexed yet; the next reindex picks it up at the new path.
		e.log.Warn("moved note missing from index", zap.String("note", a.NoteID), zap.Error(err))
	}

	if a.Decision != nil {
		d := *a.Decision
		d.NoteID = newID
		if err := e.index.AppendDecision(&d); err != nil {
			return out, err
		}
	}

	e.log.Info("moved note",
		zap.String("from", a.FromPath),
		zap.String("to", dest),
		zap.String("method", a.Method))
	return out, nil
}

// cleanup removes consolidation sources that ended up empty. A directory
// still holding anything stays.
func (e *Executor) cleanup(dirs []string) []string {
	var removed []string
	for _, d := range dirs {
		if err := os.Remove(d); err != nil {
			e.log.Debug("kept non-empty folder", zap.String("dir", d), zap.Error(err))
			continue
		}
		removed = append(removed, d)
		e.log.Info("removed emptied folder", zap.String("dir", d))
	}
	return removed
}

func (e *Executor) finish(r *ExecutionReport, total int) {
	r.FinishedAt = e.now().UTC()
	r.Partial = len(r.Failed) > 0 || len(r.Applied) < total
}

// freeDestination returns path when nothing sits there, otherwise the
// first name-2.md, name-3.md variant that is free. Only the filename is
// ever suffixed, never the folder.
func freeDestination(path string) (string, error) {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return path, nil
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	for i := 2; i < 1000; i++ {
		cand := filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		if _, err := os.Lstat(cand); os.IsNotExist(err) {
			return cand, nil
		}
	}
	return "", fmt.Errorf("no collision-free name for %s", path)
}

// relID is the index id for a vault path: slash-separated, relative to
// the vault root.
func relID(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

type auditLine struct {
	At         time.Time `json:"at"`
	PlanID     string    `json:"plan_id"`
	SnapshotID string    `json:"snapshot_id"`
	NoteID     string    `json:"note_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Method     string    `json:"method"`
	Error      string    `json:"error,omitempty"`
}

// auditLog appends JSON lines to the audit file. It is best-effort: a
// vault move must not fail because the trail cannot be written.
type auditLog struct {
	f   *os.File
	enc *json.Encoder
	log *zap.Logger
}

func (e *Executor) openAudit() *auditLog {
	if e.auditPath == "" {
		return &auditLog{}
	}
	if err := os.MkdirAll(filepath.Dir(e.auditPath), 0o755); err != nil {
		e.log.Warn("audit trail unavailable", zap.Error(err))
		return &auditLog{}
	}
	f, err := os.OpenFile(e.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		e.log.Warn("audit trail unavailable", zap.Error(err))
		return &auditLog{}
	}
	return &auditLog{f: f, enc: json.NewEncoder(f), log: e.log}
}

func (l *auditLog) record(line auditLine) {
	if l.enc == nil {
		return
	}
	line.At = time.Now().UTC()
	if err := l.enc.Encode(line); err != nil {
		l.log.Warn("audit write failed", zap.Error(err))
	}
}

func (l *auditLog) close() {
	if l.f != nil {
		l.f.Close()
	}
}
