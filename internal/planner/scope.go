package planner

import (
	"path/filepath"
	"strings"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// ScopeKind selects which part of the vault a plan covers.
type ScopeKind string

const (
	ScopeInbox   ScopeKind = "inbox"
	ScopeArchive ScopeKind = "archive"
	ScopeAll     ScopeKind = "all"
	ScopePath    ScopeKind = "path"
)

// Scope is a parsed plan scope: inbox, archive, all, or path:<p>.
type Scope struct {
	Kind ScopeKind
	Path string // subtree for ScopePath, absolute or relative to the vault root
}

// ParseScope parses a scope argument.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "inbox":
		return Scope{Kind: ScopeInbox}, nil
	case "archive":
		return Scope{Kind: ScopeArchive}, nil
	case "all":
		return Scope{Kind: ScopeAll}, nil
	}
	if rest, ok := strings.CutPrefix(s, "path:"); ok {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return Scope{}, fault.New(fault.KindPrecondition, "path scope needs a target, e.g. path:02-Areas/Health")
		}
		return Scope{Kind: ScopePath, Path: rest}, nil
	}
	return Scope{}, fault.Newf(fault.KindPrecondition, "unknown scope %q", s).
		WithHint("valid scopes: inbox, archive, all, path:<subtree>")
}

func (s Scope) String() string {
	if s.Kind == ScopePath {
		return string(ScopePath) + ":" + s.Path
	}
	return string(s.Kind)
}

// Matches reports whether a note falls inside the scope.
func (s Scope) Matches(root string, n *vault.Note) bool {
	switch s.Kind {
	case ScopeInbox:
		return n.Category == vault.Inbox
	case ScopeArchive:
		return n.Category == vault.Archive
	case ScopePath:
		target := s.Path
		if !filepath.IsAbs(target) {
			target = filepath.Join(root, filepath.FromSlash(target))
		}
		target = filepath.Clean(target)
		return n.Path == target || strings.HasPrefix(n.Path, target+string(filepath.Separator))
	default:
		return true
	}
}
