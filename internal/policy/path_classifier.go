package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KafClaw/butler/internal/tools"
)

// FileAccessRecorder receives file reads for the workspace access index.
type FileAccessRecorder interface {
	RecordFileAccess(ctx context.Context, path, sessionID, accessType string) error
}

// PathClassifier tags file operations with their place in the PARA layout.
type PathClassifier struct {
	layout   Layout
	access   AccessFunc
	recorder FileAccessRecorder
	logger   *slog.Logger
}

// NewPathClassifier creates the module. recorder may be nil; access
// defaults to tools.GuessAccess.
func NewPathClassifier(layout Layout, access AccessFunc, recorder FileAccessRecorder, logger *slog.Logger) *PathClassifier {
	if access == nil {
		access = tools.GuessAccess
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PathClassifier{layout: layout, access: access, recorder: recorder, logger: logger}
}

func (p *PathClassifier) ID() string { return PathClassificationID }

func (p *PathClassifier) Evaluate(ctx context.Context, req ActionRequest) (Decision, error) {
	path := pathOf(req.Input)
	if path == "" {
		return Decision{Permission: Allow}, nil
	}
	cat := p.layout.Classify(path)
	msg := fmt.Sprintf("File category: %s", cat)
	if cat.Project != "" {
		msg += fmt.Sprintf(" (project: %s)", cat.Project)
	}

	if p.recorder != nil && p.access(req.Tool) == tools.AccessRead {
		abs, _ := p.layout.Resolve(path)
		if err := p.recorder.RecordFileAccess(ctx, abs, req.SessionID, tools.AccessRead.String()); err != nil {
			p.logger.Warn("File access not recorded", "path", abs, "error", err)
		}
	}
	return AllowWith(msg), nil
}
