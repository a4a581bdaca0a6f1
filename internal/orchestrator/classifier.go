package orchestrator

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/KafClaw/butler/internal/agent"
)

// Intent is what the orchestrator decided to do with a message.
type Intent string

const (
	IntentDirectAnswer       Intent = "direct_answer"
	IntentDelegate           Intent = "delegate"
	IntentNeedsClarification Intent = "needs_clarification"
	IntentOutOfScope         Intent = "out_of_scope"
)

// Intents lists every intent, in the order offered to a model classifier.
var Intents = []Intent{IntentDirectAnswer, IntentDelegate, IntentNeedsClarification, IntentOutOfScope}

// Classification is the classifier's verdict on one message.
type Classification struct {
	Intent     Intent       `json:"intent"`
	Confidence float64      `json:"confidence"`
	Domains    []agent.Kind `json:"domains,omitempty"`
	Source     string       `json:"source"` // "heuristic" or "model"
}

// scoreScale turns a summed keyword weight into a confidence in [0,1):
// one full-weight keyword gives 0.74, two give 0.85.
const scoreScale = 0.35

// domainFloor is the share of the best domain score another domain needs
// to be delegated alongside it.
const domainFloor = 0.5

type keyword struct {
	pattern *regexp.Regexp
	weight  float64
}

type rawKeyword struct {
	word   string
	weight float64
}

var domainKeywords = map[agent.Kind][]keyword{
	agent.KindTriage: compileKeywords([]rawKeyword{
		{"find", 0.8}, {"search", 0.9}, {"look up", 0.9}, {"who is", 0.9},
		{"what is", 0.6}, {"where is", 0.8}, {"contact", 0.8}, {"phone number", 0.9},
		{"project", 0.6}, {"status of", 0.7}, {"did i", 0.6}, {"email address", 0.9},
	}),
	agent.KindScheduler: compileKeywords([]rawKeyword{
		{"remind", 1.0}, {"reminder", 1.0}, {"schedule", 0.9}, {"meeting", 0.8},
		{"calendar", 0.9}, {"appointment", 0.9}, {"tomorrow", 0.5}, {"deadline", 0.7},
	}),
	agent.KindCommunicator: compileKeywords([]rawKeyword{
		{"send", 0.9}, {"message", 0.8}, {"tell", 0.7}, {"notify", 0.9},
		{"slack", 1.0}, {"email", 0.9}, {"reply", 0.8}, {"post", 0.6},
	}),
	agent.KindNavigator: compileKeywords([]rawKeyword{
		{"file", 0.9}, {"document", 0.9}, {"notes", 0.7}, {"folder", 0.8},
		{"open", 0.6}, {"read", 0.6}, {"pdf", 0.9}, {"draft", 0.6},
	}),
	agent.KindPreferenceLearner: compileKeywords([]rawKeyword{
		{"i prefer", 1.0}, {"i like", 0.9}, {"i love", 0.9}, {"my favorite", 1.0},
		{"call me", 0.9}, {"i hate", 0.9}, {"i don't like", 0.9}, {"remember that", 0.8},
	}),
}

var directKeywords = compileKeywords([]rawKeyword{
	{"hello", 0.8}, {"hi", 0.7}, {"hey", 0.6}, {"thanks", 0.9}, {"thank you", 0.9},
	{"good morning", 0.8}, {"who are you", 1.0}, {"what can you do", 1.0}, {"help", 0.5},
})

var outOfScopeKeywords = compileKeywords([]rawKeyword{
	{"hack", 1.0}, {"password of", 1.0}, {"lottery", 0.9}, {"stock tip", 0.9},
	{"bitcoin", 0.8}, {"weather", 0.7}, {"write malware", 1.0},
})

// compileKeywords builds case-insensitive word-boundary patterns. Single
// words longer than three letters also match common suffixes
// ("remind" -> "reminded").
func compileKeywords(raws []rawKeyword) []keyword {
	out := make([]keyword, len(raws))
	for i, rk := range raws {
		pattern := `(?i)\b` + regexp.QuoteMeta(rk.word) + `\b`
		if !strings.Contains(rk.word, " ") && len(rk.word) > 3 {
			pattern = `(?i)\b` + regexp.QuoteMeta(rk.word) + `(?:s|es|ed|ing)?\b`
		}
		out[i] = keyword{pattern: regexp.MustCompile(pattern), weight: rk.weight}
	}
	return out
}

func score(text string, kws []keyword) float64 {
	var total float64
	for _, kw := range kws {
		if kw.pattern.MatchString(text) {
			total += kw.weight
		}
	}
	return total
}

// domainScore scores one sub-agent domain. Messaging words only count for
// the communicator when the message asks for something to be sent.
func domainScore(text string, kind agent.Kind) float64 {
	if kind == agent.KindCommunicator && !agent.AsksToSend(text) {
		return 0
	}
	return score(text, domainKeywords[kind])
}

func confidence(total float64) float64 {
	if total <= 0 {
		return 0
	}
	return total / (total + scoreScale)
}

// ClassifyHeuristic scores message against the keyword tables. Ties
// between delegate and another intent go to delegate.
func ClassifyHeuristic(message string) Classification {
	text := strings.TrimSpace(message)
	out := Classification{Intent: IntentNeedsClarification, Source: "heuristic"}
	if text == "" {
		return out
	}

	var best float64
	for _, kind := range agent.Kinds {
		best = max(best, domainScore(text, kind))
	}
	if best > 0 {
		for _, kind := range agent.Kinds {
			if s := domainScore(text, kind); s > 0 && s >= best*domainFloor {
				out.Domains = append(out.Domains, kind)
			}
		}
	}

	direct := score(text, directKeywords)
	oos := score(text, outOfScopeKeywords)
	switch {
	case best == 0 && direct == 0 && oos == 0:
		return out
	case oos > best && oos >= direct:
		out.Intent, out.Confidence, out.Domains = IntentOutOfScope, confidence(oos), nil
	case best >= direct:
		out.Intent, out.Confidence = IntentDelegate, confidence(best)
	default:
		out.Intent, out.Confidence, out.Domains = IntentDirectAnswer, confidence(direct), nil
	}
	return out
}

// Classifier combines the heuristic with an optional model fallback and
// enforces the confidence threshold.
type Classifier struct {
	threshold float64
	model     ModelClassifier
}

func NewClassifier(threshold float64, model ModelClassifier) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold, model: model}
}

// Classify never fails: model errors and unknown model intents fall back to
// the heuristic verdict. Anything below the threshold becomes
// needs_clarification.
func (c *Classifier) Classify(ctx context.Context, message string) Classification {
	result := ClassifyHeuristic(message)
	if result.Confidence < c.threshold && c.model != nil && strings.TrimSpace(message) != "" {
		names := make([]string, len(Intents))
		for i, in := range Intents {
			names[i] = string(in)
		}
		intent, conf, err := c.model.ClassifyIntent(ctx, message, names)
		if err == nil && slices.Contains(Intents, Intent(intent)) {
			result.Intent, result.Confidence, result.Source = Intent(intent), conf, "model"
			if result.Intent == IntentDelegate && len(result.Domains) == 0 {
				result.Domains = []agent.Kind{agent.KindTriage}
			}
		}
	}
	if result.Confidence < c.threshold {
		result.Intent = IntentNeedsClarification
		result.Domains = nil
	}
	if result.Intent != IntentDelegate {
		result.Domains = nil
	}
	return result
}
