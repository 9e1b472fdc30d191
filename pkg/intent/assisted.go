package intent

import (
	"context"
	"fmt"
	"strings"

	"taskpilot/pkg/convo"
	"taskpilot/pkg/generator"
	"taskpilot/pkg/logx"
)

const assistedSystemPrompt = `You label messages sent to a to-do list assistant.
Answer with exactly one label from this list and nothing else:
%s`

// AssistedClassifier asks a text generator to label messages the rules leave UNKNOWN.
// Any generator failure or unusable answer keeps the rule result.
type AssistedClassifier struct {
	rules         Classifier
	gen           generator.TextGenerator
	tokens        *generator.TokenCounter
	maxTokens     int
	maxConfidence float64
	logger        *logx.Logger
}

// NewAssistedClassifier wraps rules. tokens may be nil, in which case prompts are budgeted by length.
func NewAssistedClassifier(rules Classifier, gen generator.TextGenerator, tokens *generator.TokenCounter, maxPromptTokens int, maxConfidence float64) *AssistedClassifier {
	return &AssistedClassifier{
		rules:         rules,
		gen:           gen,
		tokens:        tokens,
		maxTokens:     maxPromptTokens,
		maxConfidence: maxConfidence,
		logger:        logx.NewLogger("intent"),
	}
}

// Classify implements Classifier.
func (a *AssistedClassifier) Classify(ctx context.Context, text string, conv convo.Context) Classified {
	result := a.rules.Classify(ctx, text, conv)
	if result.Intent != Unknown || result.Text == "" {
		return result
	}

	labels := make([]string, 0, len(All())+1)
	for _, i := range All() {
		labels = append(labels, string(i))
	}
	labels = append(labels, string(Unknown))

	prompt := a.tokens.Truncate(result.Text, a.maxTokens)
	answer, err := a.gen.Generate(ctx, generator.Request{
		System:    fmt.Sprintf(assistedSystemPrompt, strings.Join(labels, "\n")),
		Prompt:    prompt,
		MaxTokens: 8,
	})
	if err != nil {
		a.logger.Warn("generator fallback failed, keeping rule result: %v", err)
		return result
	}

	label := strings.ToUpper(strings.Trim(strings.TrimSpace(answer), ".`\"'"))
	if !Valid(label) || Intent(label) == Unknown {
		logx.Debug(ctx, "intent", "generator answered unusable label %q", answer)
		return result
	}

	result.Intent = Intent(label)
	result.Confidence = a.maxConfidence
	result.Source = SourceGenerator
	return result
}
