package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const excerptLimit = 2000

var navigatorStopWords = map[string]bool{
	"find": true, "my": true, "the": true, "a": true, "an": true, "for": true, "me": true,
	"show": true, "where": true, "is": true, "open": true, "file": true, "files": true,
	"please": true, "what": true, "about": true, "in": true, "of": true, "read": true,
}

// Navigator finds the most relevant workspace file and reads it.
type Navigator struct{ deps Deps }

func NewNavigator(d Deps) *Navigator { return &Navigator{deps: d} }

func (n *Navigator) Kind() Kind { return KindNavigator }

func (n *Navigator) Run(ctx context.Context, ac Context, task Task) DelegationResult {
	r := newRun(n.deps, ac, KindNavigator)
	query := param(task, "query")
	if query == "" {
		query = fileQuery(task.Instruction)
	}

	found, err := r.invoke(ctx, "search_files", map[string]any{"query": query, "limit": 5})
	if err != nil {
		return r.fail(err)
	}
	if strings.HasPrefix(found.Output, "No files match") {
		return r.success(found.Output)
	}
	var paths []string
	for _, line := range strings.Split(found.Output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	if len(paths) == 0 {
		return r.success(fmt.Sprintf("No files match %q.", query))
	}

	read, err := r.invoke(ctx, "read_file", map[string]any{"path": paths[0]})
	if err != nil {
		return r.partial("Matching files:\n"+strings.Join(paths, "\n"), fmt.Sprintf("could not read %s: %v", paths[0], err))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Best match: %s\n", paths[0])
	if read.AdditionalContext != "" {
		sb.WriteString(read.AdditionalContext + "\n")
	}
	sb.WriteString("\n" + truncate(read.Output, excerptLimit))
	if len(paths) > 1 {
		sb.WriteString("\n\nOther matches:\n" + strings.Join(paths[1:], "\n"))
	}
	return r.success(r.phrase(ctx, "Answer the user's question from this file excerpt.", sb.String()))
}

// fileQuery drops filler words so the fuzzy matcher sees only the nouns.
func fileQuery(text string) string {
	var keep []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?\"'")
		if w != "" && !navigatorStopWords[w] {
			keep = append(keep, w)
		}
	}
	if len(keep) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.Join(keep, " ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n..."
}
