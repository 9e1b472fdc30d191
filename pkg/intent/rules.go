package intent

import (
	"context"
	"regexp"
	"strings"

	"taskpilot/pkg/convo"
)

// DefaultConfidenceScale multiplies the matched-pattern ratio.
const DefaultConfidenceScale = 2.0

type rule struct {
	intent   Intent
	patterns []*regexp.Regexp
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		out[i] = regexp.MustCompile(expr)
	}
	return out
}

// rules are evaluated in order; the first intent with any matching pattern wins.
//
//nolint:gochecknoglobals // Compiled once, read-only
var rules = []rule{
	{Help, patterns(
		`^(help|\?)\s*[.!?]*$`,
		`\bwhat can you do\b`,
		`\bhow (does this|do you) work\b`,
		`\b(list|show)( me)?( the| your)? commands\b`,
		`^help\b`,
	)},
	{AddTodo, patterns(
		`^(please\s+)?(add|create|new)\b`,
		`\b(add|create|make) (a|an|another)( new)? (task|todo|to-do|reminder|item)\b`,
		`\bremind me to\b`,
		`^i (need|have) to\b`,
		`\bnew (task|todo|to-do|reminder)\b`,
	)},
	{ListTodos, patterns(
		`^(please\s+)?(show|list|display|view|see)\b`,
		`^(what|which) (tasks|todos|to-dos)\b`,
		`\bwhat('s| is) on my (list|plate|agenda)\b`,
		`\bwhat do i (have|need) to do\b`,
		`^my (tasks|todos|to-dos)\b`,
	)},
	{CompleteTodo, patterns(
		`\b(complete|completed|finish|finished|done)\b`,
		`\bmark\b.*\b(done|complete|completed|finished)\b`,
		`\b(check|tick|cross) (it |that |this )?off\b`,
		`\bi('ve| have) (done|finished|completed)\b`,
	)},
	{DeleteTodo, patterns(
		`\b(delete|remove|erase|drop|cancel|scrap)\b`,
		`\bget rid of\b`,
		`\b(throw|toss) (it |that |this )?(away|out)\b`,
	)},
	{ModifyTodo, patterns(
		`\b(change|update|edit|modify|rename|reschedule|move)\b`,
		`\bset\b.*\b(priority|due|date|deadline|category)\b`,
		`\b(postpone|push back|bump)\b`,
		`\bmake (it|that|this|task)\b.*\b(priority|due)\b`,
	)},
	{SearchTodos, patterns(
		`\b(search|find|look for|look up)\b`,
		`\b(tasks|todos) (about|with|containing|mentioning|matching)\b`,
		`\bany (tasks|todos)\b`,
	)},
}

var spaceRE = regexp.MustCompile(`\s+`)

// Normalize lowercases text and collapses whitespace.
func Normalize(text string) string {
	return strings.TrimSpace(spaceRE.ReplaceAllString(strings.ToLower(text), " "))
}

// RuleClassifier is the deterministic pattern-table classifier.
type RuleClassifier struct {
	scale float64
}

// NewRuleClassifier creates a rule classifier. A non-positive scale uses DefaultConfidenceScale.
func NewRuleClassifier(scale float64) *RuleClassifier {
	if scale <= 0 {
		scale = DefaultConfidenceScale
	}
	return &RuleClassifier{scale: scale}
}

// Classify implements Classifier. The conversation context does not influence rule matching,
// so identical text always yields an identical result.
func (r *RuleClassifier) Classify(_ context.Context, text string, _ convo.Context) Classified {
	normalized := Normalize(text)
	entities, spans := Extract(normalized)

	out := Classified{
		Intent:   Unknown,
		Entities: entities,
		Text:     normalized,
		Spans:    spans,
		Source:   SourceRules,
	}
	if normalized == "" {
		return out
	}

	for _, rl := range rules {
		matched := 0
		for _, p := range rl.patterns {
			if p.MatchString(normalized) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		out.Intent = rl.intent
		out.Confidence = min(float64(matched)/float64(len(rl.patterns))*r.scale, 1.0)
		return out
	}
	return out
}
