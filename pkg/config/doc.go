// Package config loads vpcforge configuration and provisioning request files.
//
// Service configuration is read from an optional YAML file, overridden by
// VPCFORGE_* environment variables and validated with struct tags:
//
//	cfg, err := config.Load("vpcforge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Environment variable names follow the nesting of Config, for example
// VPCFORGE_STORE_DRIVER, VPCFORGE_STORE_DYNAMODB_TABLE or
// VPCFORGE_ENGINE_CLAIM_TTL. Only the selected store backend is validated.
//
// Provisioning requests can be written in CUE, JSON or YAML. RequestLoader
// checks them against the #ProvisionRequest schema and reports problems with
// file, line and field path:
//
//	loader, _ := config.NewRequestLoader(config.WithDefaultRegion("us-east-1"))
//	req, err := loader.LoadFile("network.cue")
//
//	// network.cue
//	name:              "payments"
//	address_block:     "10.20.0.0/16"
//	subdivision_count: 2
//	subdivision_names: ["payments-a", "payments-b"]
package config
