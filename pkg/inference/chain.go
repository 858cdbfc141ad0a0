package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chain asks each provider in turn until one answers. Unauthorized
// errors fall through like any other failure since the next endpoint
// has its own key.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain needs at least one provider.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "inference.chain"),
	}, nil
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var errs []error
	for i, p := range c.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("answered by fallback", "provider", p.Name())
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
		if i < len(c.providers)-1 {
			c.logger.Warn("provider failed", "provider", p.Name(), "next", c.providers[i+1].Name(), "error", err)
		}
	}
	return nil, fmt.Errorf("all %d providers failed: %w", len(errs), errors.Join(errs...))
}

// Close closes every provider and joins their errors.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

var _ Provider = (*Chain)(nil)
