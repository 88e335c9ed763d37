package records

import (
	"context"
	"errors"
	"time"
)

// SchemaVersion is the layout version written on every record.
const SchemaVersion = 1

// Status represents the lifecycle state of a resource record
type Status string

const (
	// StatusPending marks a record claimed by an in-flight provisioning attempt.
	StatusPending Status = "pending"

	// StatusReady marks a fully provisioned resource family.
	StatusReady Status = "ready"

	// StatusOrphaned marks a failed attempt whose compensation left provider
	// resources behind. The record keeps their ids for reconciliation.
	StatusOrphaned Status = "orphaned"
)

var (
	// ErrNotFound is returned when no record exists for a name.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned by Claim when the name is held by a ready
	// record or by a live pending claim.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrClaimLost is returned when a conditional write no longer matches the
	// caller's claim token, i.e. another attempt took the name over.
	ErrClaimLost = errors.New("claim lost")
)

// ResourceRecord is the durable description of one provisioned resource family:
// a network and its ordered subdivisions.
type ResourceRecord struct {
	Name           string    `json:"name" dynamodbav:"vpc-name"`
	NetworkID      string    `json:"network_id" dynamodbav:"vpc_id"`
	AddressBlock   string    `json:"address_block" dynamodbav:"cidr_block"`
	Region         string    `json:"region" dynamodbav:"region"`
	Subdivisions   []string  `json:"subdivisions" dynamodbav:"subnets"`
	Status         Status    `json:"status" dynamodbav:"status"`
	ClaimToken     string    `json:"-" dynamodbav:"claim_token"`
	ClaimExpiresAt time.Time `json:"-" dynamodbav:"claim_expires_at,unixtime"`
	// AbandonedToken is the claim token of an earlier attempt whose network
	// could not be looked up yet.
	AbandonedToken string    `json:"-" dynamodbav:"abandoned_token,omitempty"`
	SchemaVersion  int       `json:"schema_version" dynamodbav:"schema_version"`
	CreatedAt      time.Time `json:"created_at" dynamodbav:"created_at,unixtime"`
	UpdatedAt      time.Time `json:"updated_at" dynamodbav:"updated_at,unixtime"`
}

// Ready reports whether the record describes a fully provisioned family.
func (r *ResourceRecord) Ready() bool {
	return r.Status == StatusReady
}

// Claimable reports whether a new provisioning attempt may take the name over
// at the given instant: the previous claim was abandoned or left orphans.
func (r *ResourceRecord) Claimable(now time.Time) bool {
	switch r.Status {
	case StatusOrphaned:
		return true
	case StatusPending:
		return !r.ClaimExpiresAt.IsZero() && now.After(r.ClaimExpiresAt)
	default:
		return false
	}
}

// Clone returns a deep copy of the record.
func (r *ResourceRecord) Clone() *ResourceRecord {
	c := *r
	c.Subdivisions = append([]string(nil), r.Subdivisions...)
	return &c
}

// ScanOptions controls a single page of a full-table scan
type ScanOptions struct {
	// Limit is the maximum number of records in the page (0 = backend default).
	Limit int

	// Cursor resumes after the last record of a previous page.
	Cursor string
}

// ScanPage is one page of a full-table scan
type ScanPage struct {
	Records []*ResourceRecord

	// NextCursor is empty when the scan is complete.
	NextCursor string
}

// Store defines the interface for the record persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// Get returns the record for name or ErrNotFound.
	Get(ctx context.Context, name string) (*ResourceRecord, error)

	// Claim writes rec as a pending claim if the name is absent or claimable.
	// It returns the record it replaced (nil when the name was absent), or
	// ErrAlreadyExists when the name is held.
	Claim(ctx context.Context, rec *ResourceRecord) (*ResourceRecord, error)

	// Update overwrites the record if its stored claim token still equals
	// rec.ClaimToken, otherwise it returns ErrClaimLost.
	Update(ctx context.Context, rec *ResourceRecord) error

	// Release deletes the record if it is still held by claimToken.
	Release(ctx context.Context, name, claimToken string) error

	// Scan returns one page of records ordered by name.
	Scan(ctx context.Context, opts ScanOptions) (*ScanPage, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
