// Package engine provisions resource families idempotently and answers
// queries about them.
//
// # Overview
//
// A resource family is one network plus an ordered list of subdivisions
// carved out of its address block. The engine creates a family through a
// Provider and records it in a records.Store under a caller-chosen name.
// Asking for the same name again returns the stored record without touching
// the provider.
//
// # Provisioning
//
// Provision runs these steps for a valid request:
//
//  1. Admit - validate fields, allocate subdivision blocks, run policy
//  2. Check - return AlreadyExists for a ready record
//  3. Claim - write a pending record guarded by a fresh claim token
//  4. Network - create the network and checkpoint its id
//  5. Subdivisions - create, label and checkpoint each block in order
//  6. Persist - mark the record ready
//
// A failure after the claim runs compensation: created subdivisions are
// deleted newest first, then the network, then the claim is released.
// Resources compensation cannot delete stay on the record, which is marked
// orphaned, and are reported in Result.Orphans. The next request for the
// name takes the orphaned record over and retries the cleanup.
//
// # Concurrency
//
// Two requests for the same name race on Claim. The loser gets InProgress
// while the winner runs, or AlreadyExists once the winner finished. A claim
// whose owner died expires after Config.ClaimTTL and can then be taken over.
//
// # Error Classification
//
// Errors are classified for retry decisions:
//
//   - Transient: Temporary failures that may succeed on retry
//   - Throttled: Rate limiting that requires backoff
//   - Conflict: Another attempt holds the name
//   - Permanent: Non-recoverable errors
//
// Idempotent steps (store reads and writes, labels, deletes, lookups) are
// retried with exponential backoff. Create calls are never retried.
//
// # Example Usage
//
//	eng, err := engine.New(engine.DefaultConfig(), engine.Deps{
//	    Store:     store,
//	    Provider:  prov,
//	    Allocator: alloc,
//	})
//
//	res := eng.Provision(ctx, &engine.ProvisionRequest{
//	    Name:             "net1",
//	    AddressBlock:     "10.20.0.0/16",
//	    Region:           "us-east-1",
//	    SubdivisionCount: 2,
//	})
//	if res.Outcome.Success() {
//	    fmt.Println(res.Record.Subdivisions)
//	}
//
// # Thread Safety
//
// An Engine is safe for concurrent use.
package engine
