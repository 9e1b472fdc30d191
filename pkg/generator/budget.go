package generator

import (
	"context"

	"taskpilot/pkg/limiter"
)

type budgeted struct {
	gen    TextGenerator
	lim    *limiter.Limiter
	tokens *TokenCounter
}

// Budget charges each request's prompt plus completion tokens to gen's allowance in lim.
// Requests over budget fail with ErrorTypeRateLimit without reaching the provider.
func Budget(gen TextGenerator, lim *limiter.Limiter, tokens *TokenCounter) TextGenerator {
	if lim == nil {
		return gen
	}
	return &budgeted{gen: gen, lim: lim, tokens: tokens}
}

func (b *budgeted) Generate(ctx context.Context, req Request) (string, error) {
	cost := b.tokens.Count(req.System) + b.tokens.Count(req.Prompt) + req.MaxTokens
	if err := b.lim.Reserve(b.gen.Name(), cost); err != nil {
		return "", NewErrorWithCause(ErrorTypeRateLimit, err, "token budget exhausted for "+b.gen.Name())
	}
	return b.gen.Generate(ctx, req)
}

func (b *budgeted) Name() string {
	return b.gen.Name()
}
