package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		uniqueSubdivisionNamesPolicy(),
		networkPrefixLengthPolicy(),
		privateAddressBlockPolicy(),
		allowedRegionsPolicy(),
	}
}

// uniqueSubdivisionNamesPolicy rejects requests that label two subdivisions
// the same way.
func uniqueSubdivisionNamesPolicy() Policy {
	return Policy{
		Name:        "unique-subdivision-names",
		Description: "Subdivision labels must be unique within a request",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package vpcforge.policies.naming

import rego.v1

deny contains violation if {
	names := input.request.subdivision_names
	some i, j
	i < j
	names[i] != ""
	names[i] == names[j]
	violation := {
		"message": sprintf("subdivision name '%s' is used more than once", [names[i]]),
		"severity": "error",
	}
}`,
	}
}

// networkPrefixLengthPolicy keeps network blocks inside the sizes the cloud
// provider accepts.
func networkPrefixLengthPolicy() Policy {
	return Policy{
		Name:        "network-prefix-length",
		Description: "Network address blocks must be between /16 and /28",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"addressing"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package vpcforge.policies.prefix

import rego.v1

prefix_length := to_number(split(input.request.address_block, "/")[1])

deny contains violation if {
	prefix_length < 16
	violation := {
		"message": sprintf("address block %s is larger than /16", [input.request.address_block]),
		"severity": "error",
	}
}

deny contains violation if {
	prefix_length > 28
	violation := {
		"message": sprintf("address block %s is smaller than /28", [input.request.address_block]),
		"severity": "error",
	}
}`,
	}
}

// privateAddressBlockPolicy warns about networks outside RFC 1918 space.
func privateAddressBlockPolicy() Policy {
	return Policy{
		Name:        "private-address-block",
		Description: "Network address blocks should come from private address space",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"addressing"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package vpcforge.policies.private

import rego.v1

private_ranges := ["10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"]

private_block if {
	some r in private_ranges
	net.cidr_contains(r, input.request.address_block)
}

deny contains violation if {
	not private_block
	violation := sprintf("address block %s is not in private address space", [input.request.address_block])
}`,
	}
}

// allowedRegionsPolicy restricts regions to data.vpcforge.allowed_regions
// when that list is not empty.
func allowedRegionsPolicy() Policy {
	return Policy{
		Name:        "allowed-regions",
		Description: "Requests must target a configured region",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"governance"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package vpcforge.policies.regions

import rego.v1

deny contains violation if {
	allowed := data.vpcforge.allowed_regions
	count(allowed) > 0
	not input.request.region in allowed
	violation := {
		"message": sprintf("region %s is not allowed", [input.request.region]),
		"severity": "error",
	}
}`,
	}
}
