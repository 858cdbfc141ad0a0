package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Chain falls back through providers in order. An empty text fails
// without trying the rest.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{providers: providers, logger: logger.With("component", "tts.chain")}, nil
}

// Name is "chain(a,b)".
func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if err := checkText(c.Name(), text); err != nil {
		return nil, err
	}
	var errs []error
	for i, p := range c.providers {
		result, err := p.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("spoken by fallback", "provider", p.Name())
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
		c.logger.Warn("provider failed", "provider", p.Name(), "error", err)
	}
	return nil, fmt.Errorf("all %d providers failed: %w", len(errs), errors.Join(errs...))
}

func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

var _ Provider = (*Chain)(nil)
