package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

const maxIndexedFiles = 5000

// FileMatch is one ranked workspace file.
type FileMatch struct {
	Path  string // relative to the workspace root
	Terms int    // query terms that matched
	Score int
}

// listWorkspaceFiles walks root and returns relative file paths, skipping
// hidden entries.
func listWorkspaceFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		if len(files) >= maxIndexedFiles {
			return filepath.SkipAll
		}
		return nil
	})
	return files, err
}

// RankFiles fuzzy-matches every query term against files. A file is kept
// when it matches at least half of the terms; results are ordered by matched
// terms, then score, then path.
func RankFiles(query string, files []string, limit int) []FileMatch {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}
	byIndex := make(map[int]*FileMatch)
	for _, term := range terms {
		for _, m := range fuzzy.Find(term, files) {
			fm, ok := byIndex[m.Index]
			if !ok {
				fm = &FileMatch{Path: m.Str}
				byIndex[m.Index] = fm
			}
			fm.Terms++
			fm.Score += m.Score
		}
	}
	need := (len(terms) + 1) / 2
	out := make([]FileMatch, 0, len(byIndex))
	for _, fm := range byIndex {
		if fm.Terms >= need {
			out = append(out, *fm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Terms != out[j].Terms {
			return out[i].Terms > out[j].Terms
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SearchFilesTool fuzzy-finds files in the workspace by name.
type SearchFilesTool struct {
	root string
}

func NewSearchFilesTool(root string) *SearchFilesTool { return &SearchFilesTool{root: root} }

func (t *SearchFilesTool) Name() string   { return "search_files" }
func (t *SearchFilesTool) Tier() int      { return TierReadOnly }
func (t *SearchFilesTool) Access() Access { return AccessRead }

func (t *SearchFilesTool) Description() string {
	return "Fuzzy-find workspace files whose path matches the query terms."
}

func (t *SearchFilesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Words to look for in file paths",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results (default 10)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchFilesTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := FirstString(params, "query", "pattern")
	if query == "" {
		return "Error: query is required", nil
	}
	root := ExpandRoot(t.root)
	files, err := listWorkspaceFiles(root)
	if err != nil {
		return fmt.Sprintf("Error listing workspace: %v", err), nil
	}
	matches := RankFiles(query, files, GetInt(params, "limit", 10))
	if len(matches) == 0 {
		return fmt.Sprintf("No files match %q.", query), nil
	}
	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(filepath.Join(root, filepath.FromSlash(m.Path)))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// SearchSource is one place the search tool looks.
type SearchSource interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// SearchTool searches every configured source and groups the hits by source.
type SearchTool struct {
	sources []SearchSource
}

func NewSearchTool(sources ...SearchSource) *SearchTool { return &SearchTool{sources: sources} }

func (t *SearchTool) Name() string { return "search" }
func (t *SearchTool) Tier() int    { return TierReadOnly }

func (t *SearchTool) Description() string {
	return "Search the user's files, reminders and saved preferences."
}

func (t *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to look for",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum hits per source (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := FirstString(params, "query", "q", "text")
	if query == "" {
		return "Error: query is required", nil
	}
	limit := GetInt(params, "limit", 5)

	var sb strings.Builder
	hits := 0
	for _, src := range t.sources {
		found, err := src.Search(ctx, query, limit)
		if err != nil {
			fmt.Fprintf(&sb, "[%s] unavailable: %v\n", src.Name(), err)
			continue
		}
		for _, f := range found {
			fmt.Fprintf(&sb, "[%s] %s\n", src.Name(), f)
			hits++
		}
	}
	if hits == 0 {
		fmt.Fprintf(&sb, "No results for %q.\n", query)
	}
	return sb.String(), nil
}

// FileSource searches workspace file names.
type FileSource struct {
	Root string
}

func (s FileSource) Name() string { return "files" }

func (s FileSource) Search(ctx context.Context, query string, limit int) ([]string, error) {
	root := ExpandRoot(s.Root)
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	files, err := listWorkspaceFiles(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range RankFiles(query, files, limit) {
		out = append(out, m.Path)
	}
	return out, nil
}
