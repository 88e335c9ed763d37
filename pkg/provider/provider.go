// Package provider defines the contract between the provisioning engine and
// the cloud API that creates networks and subdivisions.
//
// Calls are not transactional. Each one may fail independently and nothing a
// provider does is undone automatically; the engine compensates by calling the
// Delete methods in reverse creation order.
package provider

import (
	"context"
)

// TagClaimToken is the tag key carrying the claim token of the provisioning
// attempt that created a resource. It lets an attempt find a network whose
// create call succeeded server-side but failed on the way back.
const TagClaimToken = "vpcforge:claim-token"

// NetworkSpec describes a network to create.
type NetworkSpec struct {
	AddressBlock string
	Region       string
	ClaimToken   string
}

// SubdivisionSpec describes a subdivision to create inside a network.
type SubdivisionSpec struct {
	NetworkID    string
	AddressBlock string
	Region       string
	ClaimToken   string
}

// Provider creates, labels and deletes networks and their subdivisions.
type Provider interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// CreateNetwork creates a network and returns its provider-assigned id.
	CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error)

	// CreateSubdivision creates a subdivision and returns its id.
	CreateSubdivision(ctx context.Context, spec SubdivisionSpec) (string, error)

	// Label attaches a human-readable name to a network or subdivision.
	Label(ctx context.Context, region, resourceID, name string) error

	// FindNetwork looks up a network created with the given claim token.
	FindNetwork(ctx context.Context, region, claimToken string) (string, bool, error)

	// DeleteSubdivision deletes a subdivision. A missing id is not an error.
	DeleteSubdivision(ctx context.Context, region, subdivisionID string) error

	// DeleteNetwork deletes a network. A missing id is not an error.
	DeleteNetwork(ctx context.Context, region, networkID string) error
}

// Operation names used for spans, metrics and rate limiting.
const (
	OpCreateNetwork     = "create_network"
	OpCreateSubdivision = "create_subdivision"
	OpLabel             = "label"
	OpFindNetwork       = "find_network"
	OpDeleteSubdivision = "delete_subdivision"
	OpDeleteNetwork     = "delete_network"
)
