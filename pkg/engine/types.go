package engine

import (
	"time"

	"github.com/openfroyo/vpcforge/pkg/records"
)

// Outcome is the abstract result of a provisioning request.
type Outcome string

const (
	// OutcomeCreated means the resource family was created and recorded.
	OutcomeCreated Outcome = "created"

	// OutcomeAlreadyExists means a ready record already exists for the name.
	OutcomeAlreadyExists Outcome = "already_exists"

	// OutcomeInvalidRequest means the request failed validation. No provider
	// call and no store write was made.
	OutcomeInvalidRequest Outcome = "invalid_request"

	// OutcomeInProgress means another attempt holds a live claim on the name.
	OutcomeInProgress Outcome = "in_progress"

	// OutcomeProviderError means a provider or store call failed during
	// orchestration. Orphans lists anything compensation could not remove.
	OutcomeProviderError Outcome = "provider_error"

	// OutcomeInternalError means an unexpected failure.
	OutcomeInternalError Outcome = "internal_error"
)

// Success reports whether the outcome is a success (new or no-op).
func (o Outcome) Success() bool {
	return o == OutcomeCreated || o == OutcomeAlreadyExists
}

// ProvisionRequest asks for a named network with an ordered set of
// subdivisions.
type ProvisionRequest struct {
	Name             string `json:"name" validate:"required,max=255"`
	AddressBlock     string `json:"address_block" validate:"required"`
	Region           string `json:"region" validate:"required"`
	SubdivisionCount int    `json:"subdivision_count" validate:"min=1,max=256"`

	// SubdivisionNames[i] labels subdivision i. Missing or empty entries
	// leave that subdivision unlabeled.
	SubdivisionNames []string `json:"subdivision_names,omitempty" validate:"max=256,dive,max=255"`
}

// SubdivisionName returns the label for subdivision i, or "".
func (r *ProvisionRequest) SubdivisionName(i int) string {
	if i < len(r.SubdivisionNames) {
		return r.SubdivisionNames[i]
	}
	return ""
}

// Result is what Provision returns for every request.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message,omitempty"`

	// Record is the created or already existing record.
	Record *records.ResourceRecord `json:"record,omitempty"`

	// Warnings lists non-fatal problems, such as a failed label.
	Warnings []string `json:"warnings,omitempty"`

	// Orphans lists provider resource ids that compensation could not delete.
	Orphans []string `json:"orphans,omitempty"`

	// Violations lists the admission policy violations that rejected the request.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Err is the underlying error for failed outcomes.
	Err error `json:"-"`
}

// QueryRequest selects one record by name, or all records.
type QueryRequest struct {
	// Name selects a single record. Nil scans the whole store.
	Name *string

	// IncludeIncomplete also returns pending and orphaned records.
	IncludeIncomplete bool

	// Cursor resumes a truncated scan.
	Cursor string
}

// QueryResult is the answer to a query. Found is false, with no records,
// when nothing matched.
type QueryResult struct {
	Records []*records.ResourceRecord `json:"records"`
	Found   bool                      `json:"found"`

	// Truncated is set when the scan stopped at the record limit; NextCursor
	// resumes it.
	Truncated  bool   `json:"truncated,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// RetryConfig controls retries of idempotent steps.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`

	// MaxTries bounds store writes and provider deletes.
	MaxTries uint `yaml:"max_tries" env:"MAX_TRIES" validate:"gte=0"`

	// LabelMaxTries bounds label calls, whose failure is only a warning.
	LabelMaxTries uint `yaml:"label_max_tries" env:"LABEL_MAX_TRIES" validate:"gte=0"`
}

// Config holds the engine settings.
type Config struct {
	// ClaimTTL is how long a pending claim stays live without a checkpoint.
	ClaimTTL time.Duration `yaml:"claim_ttl" env:"CLAIM_TTL"`

	// MaxRecords bounds a name-less query.
	MaxRecords int `yaml:"max_records" env:"MAX_RECORDS" validate:"gte=0"`

	// ScanPageSize is the page size requested from the store per scan call.
	ScanPageSize int `yaml:"scan_page_size" env:"SCAN_PAGE_SIZE" validate:"gte=0"`

	// CompensationTimeout bounds cleanup after a failure. Cleanup runs even
	// when the request context is canceled.
	CompensationTimeout time.Duration `yaml:"compensation_timeout" env:"COMPENSATION_TIMEOUT"`

	Retry RetryConfig `yaml:"retry" envPrefix:"RETRY_"`
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		ClaimTTL:            15 * time.Minute,
		MaxRecords:          10000,
		ScanPageSize:        100,
		CompensationTimeout: 5 * time.Minute,
		Retry: RetryConfig{
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxTries:        5,
			LabelMaxTries:   3,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = def.ClaimTTL
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = def.MaxRecords
	}
	if c.ScanPageSize <= 0 {
		c.ScanPageSize = def.ScanPageSize
	}
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = def.CompensationTimeout
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = def.Retry.InitialInterval
	}
	if c.Retry.MaxInterval <= 0 {
		c.Retry.MaxInterval = def.Retry.MaxInterval
	}
	if c.Retry.MaxTries == 0 {
		c.Retry.MaxTries = def.Retry.MaxTries
	}
	if c.Retry.LabelMaxTries == 0 {
		c.Retry.LabelMaxTries = def.Retry.LabelMaxTries
	}
	return c
}
