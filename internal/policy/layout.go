package policy

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/KafClaw/butler/internal/tools"
)

// PARA top-level categories.
const (
	CategoryProjects  = "projects"
	CategoryAreas     = "areas"
	CategoryResources = "resources"
	CategoryArchive   = "archive"
)

// Category kinds.
const (
	KindPARA         = "para"
	KindExternal     = "external"
	KindProtected    = "protected"
	KindUnclassified = "unclassified"
)

// Category is where a path sits in the user's file organisation.
type Category struct {
	Kind    string
	Name    string // PARA category, external kind or "system"
	Project string // first directory below projects/, if any
}

func (c Category) String() string {
	if c.Kind == KindUnclassified || c.Name == "" {
		return c.Kind
	}
	return c.Kind + "/" + c.Name
}

// Layout describes the workspace: the PARA store root and the places that
// need special treatment.
type Layout struct {
	Root                string
	Categories          []string
	DefaultCategory     string
	ExternalDirs        map[string]string // top-level dir -> external kind
	ProtectedDirs       []string
	SensitiveExtensions []string
	SensitiveNames      []string
}

// DefaultLayout returns the PARA layout rooted at root.
func DefaultLayout(root string) Layout {
	return Layout{
		Root:            tools.ExpandRoot(root),
		Categories:      []string{CategoryProjects, CategoryAreas, CategoryResources, CategoryArchive},
		DefaultCategory: CategoryResources,
		ExternalDirs:    map[string]string{"inbox": "message", "attachments": "attachment"},
		ProtectedDirs: []string{
			"/etc", "/usr", "/bin", "/sbin", "/boot", "/proc", "/sys", "/System", "/Library",
			"~/.ssh", "~/.gnupg", "~/.config", "~/Library",
		},
		SensitiveExtensions: []string{".env", ".pem", ".key", ".p12", ".pfx", ".kdbx"},
		SensitiveNames:      []string{"id_rsa", "id_ed25519", "id_ecdsa", ".netrc", ".npmrc"},
	}
}

// Resolve returns the absolute form of path and its slash-separated path
// relative to the root ("" when outside the root).
func (l Layout) Resolve(path string) (abs, rel string) {
	abs = tools.ResolvePath(l.Root, path)
	if l.Root == "" || !tools.IsWithin(l.Root, abs) {
		return abs, ""
	}
	r, err := filepath.Rel(l.Root, abs)
	if err != nil {
		return abs, ""
	}
	return abs, filepath.ToSlash(r)
}

// IsProtected reports whether abs lies in a protected directory.
func (l Layout) IsProtected(abs string) bool {
	for _, dir := range l.ProtectedDirs {
		if tools.IsWithin(tools.ExpandRoot(dir), abs) {
			return true
		}
	}
	return false
}

// IsSensitive reports whether the file name marks a secret.
func (l Layout) IsSensitive(abs string) bool {
	base := strings.ToLower(filepath.Base(abs))
	if slices.Contains(l.SensitiveNames, base) {
		return true
	}
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	return slices.Contains(l.SensitiveExtensions, strings.ToLower(filepath.Ext(base)))
}

// Classify places path into the layout.
func (l Layout) Classify(path string) Category {
	abs, rel := l.Resolve(path)
	if l.IsProtected(abs) {
		return Category{Kind: KindProtected, Name: "system"}
	}
	if rel == "" || rel == "." {
		return Category{Kind: KindUnclassified}
	}
	parts := strings.Split(rel, "/")
	top := parts[0]
	if slices.Contains(l.Categories, top) {
		c := Category{Kind: KindPARA, Name: top}
		if top == CategoryProjects && len(parts) > 2 {
			c.Project = parts[1]
		}
		return c
	}
	if kind, ok := l.ExternalDirs[top]; ok {
		return Category{Kind: KindExternal, Name: kind}
	}
	return Category{Kind: KindUnclassified}
}

var archiveMonth = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)
