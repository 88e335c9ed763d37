package engine_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/vpcforge/pkg/addressing"
	"github.com/openfroyo/vpcforge/pkg/engine"
	"github.com/openfroyo/vpcforge/pkg/provider/providertest"
	"github.com/openfroyo/vpcforge/pkg/records"
)

// Example_provision creates a family, then asks for it again.
func Example_provision() {
	ctx := context.Background()

	store, _ := records.NewSQLiteStore(records.SQLiteConfig{Path: ":memory:"})
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	alloc, _ := addressing.New(addressing.DefaultConfig())

	eng, err := engine.New(engine.DefaultConfig(), engine.Deps{
		Store:     store,
		Provider:  providertest.New(),
		Allocator: alloc,
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	req := &engine.ProvisionRequest{
		Name:             "net1",
		AddressBlock:     "10.20.0.0/16",
		Region:           "us-east-1",
		SubdivisionCount: 2,
		SubdivisionNames: []string{"public"},
	}

	first := eng.Provision(ctx, req)
	fmt.Println(first.Outcome, first.Record.NetworkID, first.Record.Subdivisions)

	second := eng.Provision(ctx, req)
	fmt.Println(second.Outcome, second.Record.NetworkID)

	name := "net1"
	found, _ := eng.Query(ctx, engine.QueryRequest{Name: &name})
	fmt.Println(found.Found, len(found.Records))

	// Output:
	// created net-0001 [sub-0002 sub-0003]
	// already_exists net-0001
	// true 1
}
