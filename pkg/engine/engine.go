package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openfroyo/vpcforge/pkg/addressing"
	"github.com/openfroyo/vpcforge/pkg/provider"
	"github.com/openfroyo/vpcforge/pkg/records"
	"github.com/openfroyo/vpcforge/pkg/telemetry"
)

// Deps are the collaborators an Engine is built from. Store, Provider and
// Allocator are required.
type Deps struct {
	Store     records.Store
	Provider  provider.Provider
	Allocator addressing.Allocator

	// Policy is optional; nil admits every valid request.
	Policy PolicyEvaluator

	// Telemetry is optional; nil discards logs, spans and metrics.
	Telemetry *telemetry.Telemetry

	// Now and NewToken default to time.Now and uuid.NewString.
	Now      func() time.Time
	NewToken func() string
}

// Engine provisions resource families and answers queries about them.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	cfg       Config
	store     records.Store
	provider  provider.Provider
	allocator addressing.Allocator
	policy    PolicyEvaluator
	tel       *telemetry.Telemetry
	log       *telemetry.Logger
	validate  *validator.Validate
	now       func() time.Time
	newToken  func() string
}

// New creates an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("resource provider is required")
	}
	if deps.Allocator == nil {
		return nil, fmt.Errorf("address allocator is required")
	}

	tel := deps.Telemetry
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newToken := deps.NewToken
	if newToken == nil {
		newToken = uuid.NewString
	}

	return &Engine{
		cfg:       cfg.withDefaults(),
		store:     deps.Store,
		provider:  deps.Provider,
		allocator: deps.Allocator,
		policy:    deps.Policy,
		tel:       tel,
		log:       tel.Logger.NewComponentLogger("engine"),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       now,
		newToken:  newToken,
	}, nil
}

// retryable reports whether a failed idempotent step may be tried again.
func retryable(err error) bool {
	switch {
	case errors.Is(err, records.ErrClaimLost),
		errors.Is(err, records.ErrAlreadyExists),
		errors.Is(err, records.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return IsRetryable(err)
}

// Store calls are wrapped so each one gets a span and a metric.

func (e *Engine) getRecord(ctx context.Context, name string) (rec *records.ResourceRecord, err error) {
	err = e.retry(ctx, "store.get", e.cfg.Retry.MaxTries, func(ctx context.Context) error {
		return e.tel.RecordStoreOperation(ctx, "get", name, func(ctx context.Context) error {
			rec, err = e.store.Get(ctx, name)
			return err
		})
	})
	return rec, err
}

func (e *Engine) claimRecord(ctx context.Context, rec *records.ResourceRecord) (previous *records.ResourceRecord, err error) {
	// Not retried: a claim that reached the store but lost its response
	// would turn into a spurious ErrAlreadyExists on the second try.
	err = e.tel.RecordStoreOperation(ctx, "claim", rec.Name, func(ctx context.Context) error {
		previous, err = e.store.Claim(ctx, rec)
		return err
	})
	return previous, err
}

func (e *Engine) updateRecord(ctx context.Context, rec *records.ResourceRecord) error {
	return e.retry(ctx, "store.update", e.cfg.Retry.MaxTries, func(ctx context.Context) error {
		return e.tel.RecordStoreOperation(ctx, "update", rec.Name, func(ctx context.Context) error {
			return e.store.Update(ctx, rec)
		})
	})
}

func (e *Engine) releaseRecord(ctx context.Context, name, token string) error {
	return e.retry(ctx, "store.release", e.cfg.Retry.MaxTries, func(ctx context.Context) error {
		return e.tel.RecordStoreOperation(ctx, "release", name, func(ctx context.Context) error {
			return e.store.Release(ctx, name, token)
		})
	})
}

func (e *Engine) scanRecords(ctx context.Context, opts records.ScanOptions) (page *records.ScanPage, err error) {
	err = e.retry(ctx, "store.scan", e.cfg.Retry.MaxTries, func(ctx context.Context) error {
		return e.tel.RecordStoreOperation(ctx, "scan", "", func(ctx context.Context) error {
			page, err = e.store.Scan(ctx, opts)
			return err
		})
	})
	return page, err
}

// storeError classifies a store failure for the result.
func storeError(op string, err error) *EngineError {
	if errors.Is(err, records.ErrClaimLost) {
		return NewConflictError("claim taken over by another attempt", err).
			WithOperation(op).WithCode(ErrCodeClaimLost)
	}
	return NewTransientError("record store call failed", err).
		WithOperation(op).WithCode(ErrCodeStoreFailed)
}
