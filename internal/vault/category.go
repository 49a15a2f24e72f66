// Package vault reads notes from a PARA-organized directory tree: parsing
// frontmatter, inline tags, wiki links, and attachment references.
package vault

import (
	"path/filepath"
	"strings"
)

// Category is a note's PARA bucket. The filesystem location is ground truth:
// a note's category at any instant is the top-level folder it sits under.
type Category string

const (
	Projects  Category = "Projects"
	Areas     Category = "Areas"
	Resources Category = "Resources"
	Archive   Category = "Archive"
	Inbox     Category = "Inbox"
	Unknown   Category = "Unknown"
)

// On-disk folder names. The numeric prefix is part of the name.
const (
	FolderInbox     = "00-Inbox"
	FolderProjects  = "01-Projects"
	FolderAreas     = "02-Areas"
	FolderResources = "03-Resources"
	FolderArchive   = "04-Archive"
)

// PARACategories holds the four destination buckets in tie-break priority
// order: when fused scores tie, the earlier category wins.
var PARACategories = []Category{Projects, Areas, Resources, Archive}

// CategoryFolders maps each category to its top-level folder.
var CategoryFolders = map[Category]string{
	Inbox:     FolderInbox,
	Projects:  FolderProjects,
	Areas:     FolderAreas,
	Resources: FolderResources,
	Archive:   FolderArchive,
}

var folderCategories = map[string]Category{
	FolderInbox:     Inbox,
	FolderProjects:  Projects,
	FolderAreas:     Areas,
	FolderResources: Resources,
	FolderArchive:   Archive,
}

// Folder returns the on-disk top-level folder for c, or "" for Unknown.
func (c Category) Folder() string {
	return CategoryFolders[c]
}

// Keyword returns the lowercase singular keyword for c ("project", "area",
// ...). Used for directive matching and fallback folder names.
func (c Category) Keyword() string {
	switch c {
	case Projects:
		return "project"
	case Areas:
		return "area"
	case Resources:
		return "resource"
	case Archive:
		return "archive"
	case Inbox:
		return "inbox"
	default:
		return ""
	}
}

// ParseCategory maps a free-form name ("projects", "Project", "01-Projects")
// to a Category. Returns Unknown and false when the name matches nothing.
func ParseCategory(s string) (Category, bool) {
	if c, ok := folderCategories[s]; ok {
		return c, true
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "projects", "project":
		return Projects, true
	case "areas", "area":
		return Areas, true
	case "resources", "resource":
		return Resources, true
	case "archive", "archived":
		return Archive, true
	case "inbox":
		return Inbox, true
	}
	return Unknown, false
}

// CategoryOf derives the category of a path from its position under the
// vault root. Paths at the root or under unrecognized folders are Unknown.
func CategoryOf(root, path string) Category {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Unknown
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "..") {
		return Unknown
	}
	top := rel
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		top = rel[:i]
	}
	if c, ok := folderCategories[top]; ok {
		return c
	}
	return Unknown
}

// FolderOf returns the immediate parent folder name under the category root,
// or "" when the note sits directly in the category folder.
func FolderOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	// parts = [category, folder, file] for nested notes
	if len(parts) >= 3 {
		return parts[len(parts)-2]
	}
	return ""
}
