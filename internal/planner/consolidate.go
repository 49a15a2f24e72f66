package planner

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/parakeet-labs/parakeet/internal/vault"
)

// consolidationCategories maps a scope to the category roots eligible for
// sibling-folder consolidation. Inbox staging and ad-hoc path scopes are
// never consolidated.
func consolidationCategories(s Scope) []vault.Category {
	switch s.Kind {
	case ScopeArchive:
		return []vault.Category{vault.Archive}
	case ScopeAll:
		return vault.PARACategories
	default:
		return nil
	}
}

var (
	trailingNumber = regexp.MustCompile(`[\s_-]+\d+$`)
	relatedSuffix  = regexp.MustCompile(`(?i)[\s_-]+related$`)
)

// consolidationKey folds a folder name to its base: trailing numeric
// suffixes and a trailing "Related" stripped, whitespace and case
// normalized. Folders sharing a key are siblings.
func consolidationKey(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), " ")
	for {
		t := trailingNumber.ReplaceAllString(s, "")
		t = relatedSuffix.ReplaceAllString(t, "")
		if t == s {
			break
		}
		s = t
	}
	return s
}

type folderKey struct {
	cat    vault.Category
	folder string
}

// consolidationActions proposes moving notes from smaller sibling folders
// into the largest one, which keeps its name. The returned cleanup list
// holds the source directories; the executor removes only the ones the
// moves actually emptied. Notes already claimed by a classification move
// are left alone, and groups are built from the scanned notes, so
// excluded subtrees never join one.
func consolidationActions(root string, notes []*vault.Note, cats []vault.Category, moved map[string]bool) ([]*Action, []string) {
	if len(cats) == 0 {
		return nil, nil
	}
	eligible := map[vault.Category]bool{}
	for _, c := range cats {
		eligible[c] = true
	}

	byFolder := map[folderKey][]*vault.Note{}
	for _, n := range notes {
		if n.Folder == "" || !eligible[n.Category] || moved[n.RelPath] {
			continue
		}
		k := folderKey{n.Category, n.Folder}
		byFolder[k] = append(byFolder[k], n)
	}

	type group struct {
		cat     vault.Category
		folders []string
	}
	groups := map[string]*group{}
	for k := range byFolder {
		gk := string(k.cat) + "\x00" + consolidationKey(k.folder)
		g := groups[gk]
		if g == nil {
			g = &group{cat: k.cat}
			groups[gk] = g
		}
		g.folders = append(g.folders, k.folder)
	}

	gkeys := make([]string, 0, len(groups))
	for gk := range groups {
		gkeys = append(gkeys, gk)
	}
	sort.Strings(gkeys)

	var actions []*Action
	var cleanup []string
	for _, gk := range gkeys {
		g := groups[gk]
		if len(g.folders) < 2 {
			continue
		}
		// Largest sibling wins; ties go alphabetically so a rebuilt plan
		// picks the same target.
		sort.Slice(g.folders, func(i, j int) bool {
			a, b := g.folders[i], g.folders[j]
			na := len(byFolder[folderKey{g.cat, a}])
			nb := len(byFolder[folderKey{g.cat, b}])
			if na != nb {
				return na > nb
			}
			return a < b
		})
		target := g.folders[0]
		toDir := filepath.Join(root, g.cat.Folder(), target)
		for _, src := range g.folders[1:] {
			srcNotes := byFolder[folderKey{g.cat, src}]
			sort.Slice(srcNotes, func(i, j int) bool { return srcNotes[i].RelPath < srcNotes[j].RelPath })
			for _, n := range srcNotes {
				actions = append(actions, &Action{
					NoteID:       n.RelPath,
					FromPath:     n.Path,
					ToPath:       filepath.Join(toDir, filepath.Base(n.Path)),
					FromCategory: n.Category,
					Category:     n.Category,
					FolderName:   target,
					Confidence:   1,
					Method:       MethodConsolidation,
					Reasoning:    "merge into larger sibling " + target,
				})
			}
			cleanup = append(cleanup, filepath.Join(root, g.cat.Folder(), src))
		}
	}
	return actions, cleanup
}
