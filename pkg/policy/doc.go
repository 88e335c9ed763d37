// Package policy provides Open Policy Agent (OPA) admission control for
// provisioning requests.
//
// Every request is evaluated against a set of Rego policies before the
// engine touches the cloud provider. A policy reports problems through a
// "deny" set in its package; each element is either a message string or an
// object with "message" and optional "severity" fields. Violations of error
// or critical severity reject the request, lower severities are returned as
// warnings.
//
// # Input Document
//
// Policies see the request and some context:
//
//	{
//	  "request": {
//	    "name": "net1",
//	    "address_block": "10.20.0.0/16",
//	    "region": "us-east-1",
//	    "subdivision_count": 2,
//	    "subdivision_names": ["public", "private"]
//	  },
//	  "context": {
//	    "environment": "production",
//	    "timestamp": "2024-01-01T00:00:00Z",
//	    "operation": "provision"
//	  }
//	}
//
// The configured region allow-list is available as
// data.vpcforge.allowed_regions.
//
// # Built-in Policies
//
//   - unique-subdivision-names: labels must not repeat (error)
//   - network-prefix-length: blocks between /16 and /28 (error)
//   - private-address-block: blocks from RFC 1918 space (warning)
//   - allowed-regions: region allow-list, when configured (error)
//
// # Custom Policies
//
// Custom policies are loaded from .rego files, single-policy .json files, or
// JSON bundles with a "policies" array:
//
//	# Production networks need a prod- prefix
//	# severity: error
//	package custom.prod
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.context.environment == "production"
//	    not startswith(input.request.name, "prod-")
//	    msg := "production networks must start with prod-"
//	}
//
// Loader.Watch reloads policy directories when files change:
//
//	loader := policy.NewLoader(logger)
//	err := loader.Watch(ctx, paths, func(p []policy.Policy) error {
//	    return eng.ReplacePolicies(ctx, p)
//	})
//
// # Thread Safety
//
// Engine is safe for concurrent use; reloads swap the compiled set under a
// write lock.
package policy
