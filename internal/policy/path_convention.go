package policy

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/KafClaw/butler/internal/tools"
)

// PathConvention keeps writes inside the PARA layout and away from secrets
// and system locations. Only write-type tools are checked.
type PathConvention struct {
	layout Layout
	access AccessFunc
	now    func() time.Time
}

// NewPathConvention creates the module. access defaults to tools.GuessAccess.
func NewPathConvention(layout Layout, access AccessFunc) *PathConvention {
	if access == nil {
		access = tools.GuessAccess
	}
	return &PathConvention{layout: layout, access: access, now: time.Now}
}

func (p *PathConvention) ID() string { return PathConventionID }

func (p *PathConvention) Evaluate(ctx context.Context, req ActionRequest) (Decision, error) {
	if p.access(req.Tool) != tools.AccessWrite {
		return Decision{Permission: Allow}, nil
	}
	l := p.layout
	defaultDir := filepath.Join(l.Root, l.DefaultCategory)

	raw := pathOf(req.Input)
	if raw == "" {
		return Decision{
			Permission:           Deny,
			Reason:               "write target path is required",
			SuggestedAlternative: defaultDir + string(filepath.Separator),
			Code:                 CodePathConvention,
		}, nil
	}
	abs, rel := l.Resolve(raw)
	if abs == string(filepath.Separator) || abs == l.Root {
		return Decision{
			Permission:           Deny,
			Reason:               "writes directly to the root are not allowed",
			SuggestedAlternative: defaultDir + string(filepath.Separator),
			Code:                 CodePathConvention,
		}, nil
	}

	if l.IsSensitive(abs) {
		return Decision{
			Permission:           Deny,
			Reason:               fmt.Sprintf("%s looks like a credential file", filepath.Base(abs)),
			SuggestedAlternative: "store secrets with `butler connect` or the system keychain instead of a workspace file",
			Code:                 CodeSensitiveFile,
		}, nil
	}

	if l.IsProtected(abs) {
		if tools.GetBool(req.Input, "confirmed", false) {
			return AllowWith(fmt.Sprintf("Protected location write to %s was explicitly confirmed", abs)), nil
		}
		return Decision{
			Permission:               Ask,
			Reason:                   fmt.Sprintf("%s is a protected system location", abs),
			RequiresExplicitApproval: true,
			Code:                     CodeProtectedPath,
		}, nil
	}

	if rel == "" {
		return Decision{
			Permission:           Deny,
			Reason:               fmt.Sprintf("%s is outside the workspace", abs),
			SuggestedAlternative: filepath.Join(defaultDir, filepath.Base(abs)),
			Code:                 CodePathConvention,
		}, nil
	}
	parts := strings.Split(rel, "/")
	if !slices.Contains(l.Categories, parts[0]) {
		return Decision{
			Permission: Deny,
			Reason: fmt.Sprintf("%s is not under a recognized category (%s)",
				rel, strings.Join(l.Categories, ", ")),
			SuggestedAlternative: filepath.Join(defaultDir, filepath.FromSlash(rel)),
			Code:                 CodePathConvention,
		}, nil
	}

	if parts[0] == CategoryArchive && !validArchivePath(parts) {
		return Decision{
			Permission:           Deny,
			Reason:               "archived items go under archive/<projects|areas>/YYYY-MM/",
			SuggestedAlternative: filepath.Join(l.Root, filepath.FromSlash(suggestArchivePath(parts, p.now()))),
			Code:                 CodePathConvention,
		}, nil
	}

	return Decision{Permission: Allow}, nil
}

func validArchivePath(parts []string) bool {
	return len(parts) >= 4 &&
		(parts[1] == CategoryProjects || parts[1] == CategoryAreas) &&
		archiveMonth.MatchString(parts[2])
}

// suggestArchivePath rebuilds parts (archive/...) as
// archive/<projects|areas>/<current month>/<rest>.
func suggestArchivePath(parts []string, now time.Time) string {
	rest := parts[1:]
	cat := CategoryProjects
	if len(rest) > 0 && (rest[0] == CategoryProjects || rest[0] == CategoryAreas) {
		cat = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 && archiveMonth.MatchString(rest[0]) {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		rest = []string{"item"}
	}
	return path.Join(append([]string{CategoryArchive, cat, now.Format("2006-01")}, rest...)...)
}
