package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/vpcforge/pkg/provider"
	"github.com/openfroyo/vpcforge/pkg/records"
	"github.com/openfroyo/vpcforge/pkg/telemetry"
)

// attempt is the state of one provisioning attempt after it holds a claim.
type attempt struct {
	req      *ProvisionRequest
	claim    *records.ResourceRecord
	log      *telemetry.Logger
	warnings []string
}

// Provision creates the resource family named by req unless it already
// exists. It never returns nil and never panics.
func (e *Engine) Provision(ctx context.Context, req *ProvisionRequest) (res *Result) {
	timer := telemetry.NewTimer()
	e.tel.Metrics.RecordProvisionStarted()

	name, region := "", ""
	if req != nil {
		name, region = req.Name, req.Region
	}
	ctx, span := e.tel.Tracer.StartProvisionSpan(ctx, name, region)
	log := e.log.WithRecordName(name)
	if id := telemetry.TraceID(ctx); id != "" {
		log = log.WithField("trace_id", id)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("provisioning panicked: %v", r)
			res = &Result{
				Outcome: OutcomeInternalError,
				Message: "internal error",
				Err:     NewPermanentError(fmt.Sprintf("panic: %v", r), nil).WithCode(ErrCodeInternal),
			}
		}

		span.SetAttributes(telemetry.AttrOutcome.String(string(res.Outcome)))
		if res.Err != nil {
			telemetry.RecordError(span, res.Err)
			e.tel.Metrics.RecordError(string(ClassOf(res.Err)), CodeOf(res.Err))
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
		e.tel.Metrics.RecordProvisionCompleted(string(res.Outcome), timer.Duration())
	}()

	if req == nil {
		return invalid("request is required")
	}

	blocks, warnings, res := e.admit(ctx, req)
	if res != nil {
		log.WithField("reason", res.Message).Info("request rejected")
		return res
	}

	return e.provision(ctx, log, req, blocks, warnings)
}

func invalid(format string, args ...any) *Result {
	msg := fmt.Sprintf(format, args...)
	return &Result{
		Outcome: OutcomeInvalidRequest,
		Message: msg,
		Err:     NewPermanentError(msg, nil).WithCode(ErrCodeValidation),
	}
}

// admit validates the request, allocates subdivision blocks and runs
// admission policy. A non-nil result rejects the request.
func (e *Engine) admit(ctx context.Context, req *ProvisionRequest) ([]string, []string, *Result) {
	if err := e.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
			}
			return nil, nil, invalid("invalid request: %s", strings.Join(msgs, "; "))
		}
		return nil, nil, invalid("invalid request: %v", err)
	}

	if len(req.SubdivisionNames) > req.SubdivisionCount {
		return nil, nil, invalid("%d subdivision names given for %d subdivisions",
			len(req.SubdivisionNames), req.SubdivisionCount)
	}

	blocks, err := e.allocator.Allocate(req.AddressBlock, req.SubdivisionCount)
	if err != nil {
		return nil, nil, invalid("address allocation failed: %v", err)
	}

	if e.policy == nil {
		return blocks, nil, nil
	}

	result, err := e.policy.EvaluateRequest(ctx, req)
	if err != nil {
		return nil, nil, &Result{
			Outcome: OutcomeInternalError,
			Message: "policy evaluation failed",
			Err:     NewPermanentError("policy evaluation failed", err).WithCode(ErrCodeInternal),
		}
	}
	if !result.Allowed {
		msgs := make([]string, 0, len(result.Violations))
		for _, v := range result.Violations {
			msgs = append(msgs, v.Message)
		}
		res := invalid("denied by policy: %s", strings.Join(msgs, "; "))
		res.Err = NewPermanentError(res.Message, nil).WithCode(ErrCodePolicyDenied)
		res.Violations = result.Violations
		return nil, nil, res
	}

	return blocks, result.Warnings, nil
}

func (e *Engine) provision(ctx context.Context, log *telemetry.Logger, req *ProvisionRequest, blocks, warnings []string) *Result {
	// 1. Existence check
	existing, err := e.getRecord(ctx, req.Name)
	switch {
	case errors.Is(err, records.ErrNotFound):
	case err != nil:
		return providerFailure("existence check failed", storeError("get", err), nil, nil)
	case existing.Ready():
		res := alreadyExists(existing)
		res.Warnings = warnings
		return res
	case !existing.Claimable(e.now()):
		return inProgress(req.Name)
	}

	// 2. Claim
	token := e.newToken()
	claim := &records.ResourceRecord{
		Name:           req.Name,
		AddressBlock:   req.AddressBlock,
		Region:         req.Region,
		Subdivisions:   []string{},
		Status:         records.StatusPending,
		ClaimToken:     token,
		ClaimExpiresAt: e.now().Add(e.cfg.ClaimTTL),
	}
	if existing != nil {
		claim.AbandonedToken = lookupToken(existing)
	}

	previous, err := e.claimRecord(ctx, claim)
	if errors.Is(err, records.ErrAlreadyExists) {
		return e.lostClaimRace(ctx, req.Name)
	}
	if err != nil {
		return providerFailure("claim failed", storeError("claim", err), nil, nil)
	}

	a := &attempt{
		req:      req,
		claim:    claim,
		log:      log.WithClaimToken(token),
		warnings: warnings,
	}
	a.log.Info("claimed record")

	if previous != nil {
		if res := e.cleanupPrevious(ctx, a, previous); res != nil {
			return res
		}
		a.claim.AbandonedToken = ""
		if err := e.checkpoint(ctx, a); err != nil {
			return e.fail(ctx, a, "checkpoint failed", storeError("update", err))
		}
	}

	// 3. Create network
	networkID, err := e.provider.CreateNetwork(ctx, provider.NetworkSpec{
		AddressBlock: req.AddressBlock,
		Region:       req.Region,
		ClaimToken:   token,
	})
	if err != nil {
		return e.recoverNetworkCreate(ctx, a, err)
	}
	claim.NetworkID = networkID
	a.log.WithField("network_id", networkID).Info("network created")

	if err := e.checkpoint(ctx, a); err != nil {
		return e.fail(ctx, a, "checkpoint failed", storeError("update", err))
	}

	// 4. Label network
	e.label(ctx, a, networkID, req.Name)

	// 5. Subdivisions, in index order
	for i, block := range blocks {
		subID, err := e.provider.CreateSubdivision(ctx, provider.SubdivisionSpec{
			NetworkID:    networkID,
			AddressBlock: block,
			Region:       req.Region,
			ClaimToken:   token,
		})
		if err != nil {
			return e.fail(ctx, a, fmt.Sprintf("subdivision %d creation failed", i), providerError(provider.OpCreateSubdivision, err))
		}
		claim.Subdivisions = append(claim.Subdivisions, subID)

		if name := req.SubdivisionName(i); name != "" {
			e.label(ctx, a, subID, name)
		}

		if err := e.checkpoint(ctx, a); err != nil {
			return e.fail(ctx, a, "checkpoint failed", storeError("update", err))
		}
	}

	// 6. Persist
	expires := claim.ClaimExpiresAt
	claim.Status = records.StatusReady
	claim.ClaimExpiresAt = time.Time{}
	if err := e.updateRecord(ctx, claim); err != nil {
		claim.Status = records.StatusPending
		claim.ClaimExpiresAt = expires
		return e.fail(ctx, a, "finalizing record failed", storeError("update", err))
	}

	a.log.WithField("subdivisions", len(claim.Subdivisions)).Info("resource family created")
	return &Result{
		Outcome:  OutcomeCreated,
		Message:  fmt.Sprintf("created %s with %d subdivisions", req.Name, len(claim.Subdivisions)),
		Record:   claim.Clone(),
		Warnings: a.warnings,
	}
}

// checkpoint writes the ids created so far and extends the claim.
func (e *Engine) checkpoint(ctx context.Context, a *attempt) error {
	a.claim.ClaimExpiresAt = e.now().Add(e.cfg.ClaimTTL)
	return e.updateRecord(ctx, a.claim)
}

// label tags a resource. Failure only adds a warning.
func (e *Engine) label(ctx context.Context, a *attempt, resourceID, name string) {
	err := e.retry(ctx, "provider.label", e.cfg.Retry.LabelMaxTries, func(ctx context.Context) error {
		return e.provider.Label(ctx, a.req.Region, resourceID, name)
	})
	if err != nil {
		a.log.WithError(err).WithField("resource_id", resourceID).Warn("label failed")
		a.warnings = append(a.warnings, fmt.Sprintf("failed to label %s as %q: %v", resourceID, name, err))
	}
}

// recoverNetworkCreate handles a failed CreateNetwork call, which may still
// have created the network server-side.
func (e *Engine) recoverNetworkCreate(ctx context.Context, a *attempt, cause error) *Result {
	a.log.WithError(cause).Warn("network creation failed")
	cause = providerError(provider.OpCreateNetwork, cause)

	ctx, cancel := e.compensationContext(ctx)
	defer cancel()

	var (
		networkID string
		found     bool
	)
	err := e.retry(ctx, "provider.find_network", e.cfg.Retry.MaxTries, func(ctx context.Context) (err error) {
		networkID, found, err = e.provider.FindNetwork(ctx, a.req.Region, a.claim.ClaimToken)
		return err
	})
	if err != nil {
		// Unknown provider state: keep the pending claim so that the next
		// attempt after expiry repeats the lookup.
		a.log.WithError(err).Error("network lookup failed; claim left pending until it expires")
		res := providerFailure("network creation failed", cause, nil, a.warnings)
		res.Warnings = append(res.Warnings, "provider state unknown; the name stays claimed until the claim expires")
		return res
	}

	if found {
		a.log.WithField("network_id", networkID).Info("found network created by failed call")
		a.claim.NetworkID = networkID
	}
	return e.fail(ctx, a, "network creation failed", cause)
}

// cleanupPrevious deletes what an abandoned or orphaned record left behind
// before this attempt creates anything.
func (e *Engine) cleanupPrevious(ctx context.Context, a *attempt, previous *records.ResourceRecord) *Result {
	log := a.log.WithField("previous_status", string(previous.Status))
	log.Info("taking over abandoned record")

	stale := previous.Clone()
	if token := lookupToken(stale); token != "" {
		var (
			id    string
			found bool
		)
		err := e.retry(ctx, "provider.find_network", e.cfg.Retry.MaxTries, func(ctx context.Context) (err error) {
			id, found, err = e.provider.FindNetwork(ctx, stale.Region, token)
			return err
		})
		if err != nil {
			return e.keepAbandoned(ctx, a, stale, token, err)
		}
		if found {
			stale.NetworkID = id
		}
	}

	leftSubs, networkLeft := e.deleteResources(ctx, stale.Region, stale.NetworkID, stale.Subdivisions)
	orphans := orphanIDs(stale.NetworkID, networkLeft, leftSubs)
	if len(orphans) == 0 {
		return nil
	}

	// Keep the leftovers on record under this attempt's token so the next
	// attempt retries the cleanup where they live.
	a.claim.Status = records.StatusOrphaned
	a.claim.Region = stale.Region
	a.claim.AddressBlock = stale.AddressBlock
	a.claim.AbandonedToken = ""
	a.claim.NetworkID = ""
	if networkLeft {
		a.claim.NetworkID = stale.NetworkID
	}
	a.claim.Subdivisions = leftSubs
	a.claim.ClaimExpiresAt = time.Time{}
	if err := e.updateRecord(ctx, a.claim); err != nil {
		log.WithError(err).WithField("orphans", orphans).Error("failed to record orphaned resources")
	}

	e.tel.Metrics.RecordCompensation(len(orphans))
	cause := NewTransientError("resources of an earlier attempt could not be deleted", nil).
		WithCode(ErrCodeCompensation).WithResource(a.req.Name)
	return providerFailure("cleanup of an earlier attempt failed", cause, orphans, a.warnings)
}

// keepAbandoned records the takeover as orphaned with the token whose network
// could not be looked up, so that the next attempt repeats the lookup.
func (e *Engine) keepAbandoned(ctx context.Context, a *attempt, stale *records.ResourceRecord, token string, cause error) *Result {
	a.log.WithError(cause).Error("lookup of abandoned network failed")

	a.claim.Status = records.StatusOrphaned
	a.claim.Region = stale.Region
	a.claim.AddressBlock = stale.AddressBlock
	a.claim.NetworkID = ""
	a.claim.Subdivisions = stale.Subdivisions
	a.claim.AbandonedToken = token
	a.claim.ClaimExpiresAt = time.Time{}
	if err := e.updateRecord(ctx, a.claim); err != nil {
		// The claim still carries the token and expires on its own.
		a.log.WithError(err).Error("failed to record abandoned claim")
	}

	res := providerFailure("lookup of an earlier attempt's network failed",
		providerError(provider.OpFindNetwork, cause), stale.Subdivisions, a.warnings)
	res.Warnings = append(res.Warnings, "provider state unknown; the next attempt repeats the lookup")
	return res
}

// lookupToken returns the claim token to search the provider with when a
// record names no network.
func lookupToken(rec *records.ResourceRecord) string {
	if rec.NetworkID != "" {
		return ""
	}
	if rec.AbandonedToken != "" {
		return rec.AbandonedToken
	}
	return rec.ClaimToken
}

// lostClaimRace answers a request whose claim lost to a concurrent write.
func (e *Engine) lostClaimRace(ctx context.Context, name string) *Result {
	existing, err := e.getRecord(ctx, name)
	if err == nil && existing.Ready() {
		return alreadyExists(existing)
	}
	return inProgress(name)
}

func alreadyExists(rec *records.ResourceRecord) *Result {
	return &Result{
		Outcome: OutcomeAlreadyExists,
		Message: fmt.Sprintf("%s already exists", rec.Name),
		Record:  rec,
	}
}

func inProgress(name string) *Result {
	msg := fmt.Sprintf("%s is being provisioned by another request", name)
	return &Result{
		Outcome: OutcomeInProgress,
		Message: msg,
		Err:     NewConflictError(msg, nil).WithCode(ErrCodeInProgress).WithResource(name),
	}
}

func providerFailure(msg string, cause error, orphans, warnings []string) *Result {
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &Result{
		Outcome:  OutcomeProviderError,
		Message:  msg,
		Orphans:  orphans,
		Warnings: warnings,
		Err:      cause,
	}
}

// providerError tags an unclassified provider error with the operation.
func providerError(op string, err error) error {
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return NewTransientError("provider call failed", err).WithOperation(op).WithCode(ErrCodeProviderFailed)
}
