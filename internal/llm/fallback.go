package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAdapter attempts a primary adapter first and falls back on error.
// Once any delta has been forwarded the fallback is never used, so the
// caller never sees two interleaved answers.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

func NewFallbackAdapter(primary Adapter, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{
		primary:  primary,
		fallback: fallback,
	}
}

// Primary returns the preferred adapter used before fallback.
func (a *FallbackAdapter) Primary() Adapter {
	if a == nil {
		return nil
	}
	return a.primary
}

// Secondary returns the fallback adapter.
func (a *FallbackAdapter) Secondary() Adapter {
	if a == nil {
		return nil
	}
	return a.fallback
}

func (a *FallbackAdapter) StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error) {
	if a == nil || a.primary == nil {
		if a != nil && a.fallback != nil {
			return a.fallback.StreamResponse(ctx, req, onDelta)
		}
		return MessageResponse{}, errors.New("fallback adapter misconfigured")
	}

	forwarded := false
	resp, err := a.primary.StreamResponse(ctx, req, func(delta string) error {
		forwarded = true
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	if err == nil {
		return resp, nil
	}
	if forwarded || a.fallback == nil {
		return MessageResponse{}, err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return MessageResponse{}, err
	}

	fallbackResp, fallbackErr := a.fallback.StreamResponse(ctx, req, onDelta)
	if fallbackErr != nil {
		return MessageResponse{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
