package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds the request rate sent to a provider.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate (0 disables limiting).
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND" validate:"gte=0"`

	// Burst is the number of calls allowed above the sustained rate.
	Burst int `yaml:"burst" env:"BURST" validate:"gte=0"`
}

// RateLimited wraps a Provider so that every call first waits on a shared
// token bucket.
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a limiter built from cfg. A zero rate returns
// next unchanged.
func NewRateLimited(next Provider, cfg RateLimitConfig) Provider {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

func (r *RateLimited) wait(ctx context.Context, op string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", op, err)
	}
	return nil
}

// Name implements Provider.
func (r *RateLimited) Name() string {
	return r.next.Name()
}

// CreateNetwork implements Provider.
func (r *RateLimited) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	if err := r.wait(ctx, OpCreateNetwork); err != nil {
		return "", err
	}
	return r.next.CreateNetwork(ctx, spec)
}

// CreateSubdivision implements Provider.
func (r *RateLimited) CreateSubdivision(ctx context.Context, spec SubdivisionSpec) (string, error) {
	if err := r.wait(ctx, OpCreateSubdivision); err != nil {
		return "", err
	}
	return r.next.CreateSubdivision(ctx, spec)
}

// Label implements Provider.
func (r *RateLimited) Label(ctx context.Context, region, resourceID, name string) error {
	if err := r.wait(ctx, OpLabel); err != nil {
		return err
	}
	return r.next.Label(ctx, region, resourceID, name)
}

// FindNetwork implements Provider.
func (r *RateLimited) FindNetwork(ctx context.Context, region, claimToken string) (string, bool, error) {
	if err := r.wait(ctx, OpFindNetwork); err != nil {
		return "", false, err
	}
	return r.next.FindNetwork(ctx, region, claimToken)
}

// DeleteSubdivision implements Provider.
func (r *RateLimited) DeleteSubdivision(ctx context.Context, region, subdivisionID string) error {
	if err := r.wait(ctx, OpDeleteSubdivision); err != nil {
		return err
	}
	return r.next.DeleteSubdivision(ctx, region, subdivisionID)
}

// DeleteNetwork implements Provider.
func (r *RateLimited) DeleteNetwork(ctx context.Context, region, networkID string) error {
	if err := r.wait(ctx, OpDeleteNetwork); err != nil {
		return err
	}
	return r.next.DeleteNetwork(ctx, region, networkID)
}
