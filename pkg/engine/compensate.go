package engine

import (
	"context"
	"time"

	"github.com/openfroyo/vpcforge/pkg/provider"
	"github.com/openfroyo/vpcforge/pkg/records"
)

// compensationContext detaches cleanup from the caller's cancellation but
// still bounds it.
func (e *Engine) compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CompensationTimeout)
}

// fail undoes everything the attempt created and returns a ProviderError
// result. Resources that cannot be deleted stay on the record as orphans.
func (e *Engine) fail(ctx context.Context, a *attempt, msg string, cause error) *Result {
	ctx, cancel := e.compensationContext(ctx)
	defer cancel()

	log := a.log.WithError(cause)
	log.Warnf("%s; compensating", msg)

	claim := a.claim
	leftSubs, networkLeft := e.deleteResources(ctx, a.req.Region, claim.NetworkID, claim.Subdivisions)
	orphans := orphanIDs(claim.NetworkID, networkLeft, leftSubs)
	e.tel.Metrics.RecordCompensation(len(orphans))

	if len(orphans) == 0 {
		if err := e.releaseRecord(ctx, claim.Name, claim.ClaimToken); err != nil {
			// A lost claim means a newer attempt owns the name; nothing of
			// ours is left to describe.
			log.WithField("release_error", err.Error()).Warn("failed to release claim")
		}
		log.Info("compensation complete")
		return providerFailure(msg, cause, nil, a.warnings)
	}

	claim.Status = records.StatusOrphaned
	claim.ClaimExpiresAt = time.Time{}
	claim.Subdivisions = leftSubs
	if !networkLeft {
		claim.NetworkID = ""
	}
	if err := e.updateRecord(ctx, claim); err != nil {
		log.WithField("orphans", orphans).
			WithField("record_error", err.Error()).
			Error("failed to record orphaned resources")
	} else {
		log.WithField("orphans", orphans).Error("compensation left orphaned resources")
	}

	return providerFailure(msg, cause, orphans, a.warnings)
}

// deleteResources deletes subdivisions newest first, then the network. It
// returns the subdivisions still present, in creation order, and whether the
// network is still present.
func (e *Engine) deleteResources(ctx context.Context, region, networkID string, subdivisions []string) ([]string, bool) {
	var left []string
	for i := len(subdivisions) - 1; i >= 0; i-- {
		id := subdivisions[i]
		err := e.retry(ctx, "provider."+provider.OpDeleteSubdivision, e.cfg.Retry.MaxTries, func(ctx context.Context) error {
			return e.provider.DeleteSubdivision(ctx, region, id)
		})
		if err != nil {
			e.log.WithError(err).WithField("resource_id", id).Warn("failed to delete subdivision")
			left = append([]string{id}, left...)
		}
	}

	if networkID == "" {
		return left, false
	}
	if len(left) > 0 {
		// The network cannot go while subdivisions remain in it.
		return left, true
	}

	err := e.retry(ctx, "provider."+provider.OpDeleteNetwork, e.cfg.Retry.MaxTries, func(ctx context.Context) error {
		return e.provider.DeleteNetwork(ctx, region, networkID)
	})
	if err != nil {
		e.log.WithError(err).WithField("resource_id", networkID).Warn("failed to delete network")
		return left, true
	}
	return left, false
}

func orphanIDs(networkID string, networkLeft bool, subdivisions []string) []string {
	var ids []string
	if networkLeft && networkID != "" {
		ids = append(ids, networkID)
	}
	return append(ids, subdivisions...)
}
