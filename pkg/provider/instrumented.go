package provider

import (
	"context"

	"github.com/openfroyo/vpcforge/pkg/telemetry"
)

// Instrumented wraps a Provider with a span and call metrics per operation.
type Instrumented struct {
	next Provider
	tel  *telemetry.Telemetry
}

// NewInstrumented wraps next with tel.
func NewInstrumented(next Provider, tel *telemetry.Telemetry) *Instrumented {
	return &Instrumented{next: next, tel: tel}
}

// Name implements Provider.
func (i *Instrumented) Name() string {
	return i.next.Name()
}

// CreateNetwork implements Provider.
func (i *Instrumented) CreateNetwork(ctx context.Context, spec NetworkSpec) (id string, err error) {
	err = i.tel.RecordProviderOperation(ctx, i.next.Name(), OpCreateNetwork, func(ctx context.Context) error {
		id, err = i.next.CreateNetwork(ctx, spec)
		return err
	})
	return id, err
}

// CreateSubdivision implements Provider.
func (i *Instrumented) CreateSubdivision(ctx context.Context, spec SubdivisionSpec) (id string, err error) {
	err = i.tel.RecordProviderOperation(ctx, i.next.Name(), OpCreateSubdivision, func(ctx context.Context) error {
		id, err = i.next.CreateSubdivision(ctx, spec)
		return err
	})
	return id, err
}

// Label implements Provider.
func (i *Instrumented) Label(ctx context.Context, region, resourceID, name string) error {
	return i.tel.RecordProviderOperation(ctx, i.next.Name(), OpLabel, func(ctx context.Context) error {
		return i.next.Label(ctx, region, resourceID, name)
	})
}

// FindNetwork implements Provider.
func (i *Instrumented) FindNetwork(ctx context.Context, region, claimToken string) (id string, found bool, err error) {
	err = i.tel.RecordProviderOperation(ctx, i.next.Name(), OpFindNetwork, func(ctx context.Context) error {
		id, found, err = i.next.FindNetwork(ctx, region, claimToken)
		return err
	})
	return id, found, err
}

// DeleteSubdivision implements Provider.
func (i *Instrumented) DeleteSubdivision(ctx context.Context, region, subdivisionID string) error {
	return i.tel.RecordProviderOperation(ctx, i.next.Name(), OpDeleteSubdivision, func(ctx context.Context) error {
		return i.next.DeleteSubdivision(ctx, region, subdivisionID)
	})
}

// DeleteNetwork implements Provider.
func (i *Instrumented) DeleteNetwork(ctx context.Context, region, networkID string) error {
	return i.tel.RecordProviderOperation(ctx, i.next.Name(), OpDeleteNetwork, func(ctx context.Context) error {
		return i.next.DeleteNetwork(ctx, region, networkID)
	})
}
