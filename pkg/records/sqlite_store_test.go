package records

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(SQLiteConfig{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func pendingRecord(name, token string, ttl time.Duration) *ResourceRecord {
	return &ResourceRecord{
		Name:           name,
		AddressBlock:   "10.20.0.0/16",
		Region:         "us-east-1",
		Status:         StatusPending,
		ClaimToken:     token,
		ClaimExpiresAt: time.Now().Add(ttl),
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(SQLiteConfig{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	var count int
	err := store.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM resource_records").Scan(&count)
	if err != nil {
		t.Fatalf("resource_records table is not accessible: %v", err)
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

// TestRecordLifecycle walks a record through claim, checkpoint, finalize
func TestRecordLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "net1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	claim := pendingRecord("net1", "token-1", time.Minute)
	previous, err := store.Claim(ctx, claim)
	if err != nil {
		t.Fatalf("failed to claim: %v", err)
	}
	if previous != nil {
		t.Errorf("expected no previous record, got %+v", previous)
	}

	got, err := store.Get(ctx, "net1")
	if err != nil {
		t.Fatalf("failed to get claimed record: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, got.Status)
	}
	if got.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, got.SchemaVersion)
	}
	if len(got.Subdivisions) != 0 {
		t.Errorf("expected no subdivisions, got %v", got.Subdivisions)
	}

	// Checkpoint
	claim.NetworkID = "vpc-1"
	claim.Subdivisions = []string{"subnet-a"}
	if err := store.Update(ctx, claim); err != nil {
		t.Fatalf("failed to checkpoint: %v", err)
	}

	// Finalize
	claim.Subdivisions = append(claim.Subdivisions, "subnet-b")
	claim.Status = StatusReady
	claim.ClaimExpiresAt = time.Time{}
	if err := store.Update(ctx, claim); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}

	got, err = store.Get(ctx, "net1")
	if err != nil {
		t.Fatalf("failed to get finalized record: %v", err)
	}
	if !got.Ready() {
		t.Errorf("expected ready record, got %s", got.Status)
	}
	if got.NetworkID != "vpc-1" {
		t.Errorf("expected NetworkID vpc-1, got %s", got.NetworkID)
	}
	if len(got.Subdivisions) != 2 || got.Subdivisions[0] != "subnet-a" || got.Subdivisions[1] != "subnet-b" {
		t.Errorf("unexpected subdivisions %v", got.Subdivisions)
	}
	if !got.ClaimExpiresAt.IsZero() {
		t.Errorf("expected cleared claim expiry, got %v", got.ClaimExpiresAt)
	}

	// A ready record cannot be claimed again.
	if _, err := store.Claim(ctx, pendingRecord("net1", "token-2", time.Minute)); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestClaimRejectsLivePendingClaim(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Claim(ctx, pendingRecord("net1", "token-1", time.Minute)); err != nil {
		t.Fatalf("failed to claim: %v", err)
	}

	if _, err := store.Claim(ctx, pendingRecord("net1", "token-2", time.Minute)); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestClaimTakesOverExpiredClaim(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	stale := pendingRecord("net1", "token-1", -time.Second)
	stale.NetworkID = "vpc-stale"
	if _, err := store.Claim(ctx, stale); err != nil {
		t.Fatalf("failed to claim: %v", err)
	}

	previous, err := store.Claim(ctx, pendingRecord("net1", "token-2", time.Minute))
	if err != nil {
		t.Fatalf("failed to take over expired claim: %v", err)
	}
	if previous == nil || previous.NetworkID != "vpc-stale" || previous.ClaimToken != "token-1" {
		t.Fatalf("expected replaced stale record, got %+v", previous)
	}

	// The stale owner can no longer write.
	stale.Status = StatusReady
	if err := store.Update(ctx, stale); !errors.Is(err, ErrClaimLost) {
		t.Errorf("expected ErrClaimLost, got %v", err)
	}
	if err := store.Release(ctx, "net1", "token-1"); !errors.Is(err, ErrClaimLost) {
		t.Errorf("expected ErrClaimLost on release, got %v", err)
	}
}

func TestClaimTakesOverOrphanedRecord(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := pendingRecord("net1", "token-1", time.Minute)
	if _, err := store.Claim(ctx, rec); err != nil {
		t.Fatalf("failed to claim: %v", err)
	}
	rec.Status = StatusOrphaned
	rec.NetworkID = "vpc-left"
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("failed to mark orphaned: %v", err)
	}

	previous, err := store.Claim(ctx, pendingRecord("net1", "token-2", time.Minute))
	if err != nil {
		t.Fatalf("failed to claim orphaned name: %v", err)
	}
	if previous == nil || previous.Status != StatusOrphaned {
		t.Fatalf("expected orphaned previous record, got %+v", previous)
	}
}

func TestReleaseDeletesClaim(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Claim(ctx, pendingRecord("net1", "token-1", time.Minute)); err != nil {
		t.Fatalf("failed to claim: %v", err)
	}
	if err := store.Release(ctx, "net1", "token-1"); err != nil {
		t.Fatalf("failed to release: %v", err)
	}
	if _, err := store.Get(ctx, "net1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after release, got %v", err)
	}
}

// TestConcurrentClaims verifies that exactly one of many racing claims wins
func TestConcurrentClaims(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		refused int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Claim(ctx, pendingRecord("net1", fmt.Sprintf("token-%d", i), time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrAlreadyExists):
				refused++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if won != 1 {
		t.Errorf("expected exactly one winning claim, got %d", won)
	}
	if refused != workers-1 {
		t.Errorf("expected %d refused claims, got %d", workers-1, refused)
	}
}

// TestScanPagination tests cursor-based scanning
func TestScanPagination(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Claim(ctx, pendingRecord(fmt.Sprintf("net%d", i), "t", time.Minute)); err != nil {
			t.Fatalf("failed to claim: %v", err)
		}
	}

	var (
		names  []string
		cursor string
		pages  int
	)
	for {
		page, err := store.Scan(ctx, ScanOptions{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("failed to scan: %v", err)
		}
		pages++
		for _, rec := range page.Records {
			names = append(names, rec.Name)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	if len(names) != 5 {
		t.Fatalf("expected 5 records, got %d", len(names))
	}
	for i, name := range names {
		if want := fmt.Sprintf("net%d", i); name != want {
			t.Errorf("expected %s at position %d, got %s", want, i, name)
		}
	}
}

func TestScanEmptyStore(t *testing.T) {
	store := setupTestStore(t)

	page, err := store.Scan(context.Background(), ScanOptions{})
	if err != nil {
		t.Fatalf("failed to scan: %v", err)
	}
	if len(page.Records) != 0 || page.NextCursor != "" {
		t.Errorf("expected empty final page, got %+v", page)
	}
}

func TestUpdateRewritesPlacementAndAbandonedToken(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := pendingRecord("net1", "token-1", time.Minute)
	rec.AbandonedToken = "dead-token"
	if _, err := store.Claim(ctx, rec); err != nil {
		t.Fatalf("failed to claim: %v", err)
	}

	got, err := store.Get(ctx, "net1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got.AbandonedToken != "dead-token" {
		t.Errorf("expected abandoned token dead-token, got %q", got.AbandonedToken)
	}

	rec.Region = "eu-west-1"
	rec.AddressBlock = "10.30.0.0/16"
	rec.AbandonedToken = ""
	rec.Status = StatusOrphaned
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("failed to update: %v", err)
	}

	got, err = store.Get(ctx, "net1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got.Region != "eu-west-1" || got.AddressBlock != "10.30.0.0/16" {
		t.Errorf("expected placement to be rewritten, got %s %s", got.Region, got.AddressBlock)
	}
	if got.AbandonedToken != "" {
		t.Errorf("expected cleared abandoned token, got %q", got.AbandonedToken)
	}
}
