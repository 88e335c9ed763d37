package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/vpcforge/pkg/engine"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeRequest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "request.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VPCFORGE_STORE_SQLITE_PATH", filepath.Join(dir, "records.db"))
	t.Setenv("VPCFORGE_TELEMETRY_METRICS_ENABLED", "false")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "aws-config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "aws-credentials"))
}

func TestValidateCommand(t *testing.T) {
	isolate(t)

	path := writeRequest(t, `
name:              "payments"
address_block:     "10.20.0.0/16"
region:            "us-east-1"
subdivision_count: 2
subdivision_names: ["a", "b"]
`)

	out, err := run(t, "validate", "--json", path)
	require.NoError(t, err)

	var report validateReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "payments", report.Name)
	assert.Equal(t, []string{"10.20.0.0/24", "10.20.1.0/24"}, report.Blocks)
	assert.True(t, report.Allowed)
}

func TestValidateListPolicies(t *testing.T) {
	isolate(t)
	t.Setenv("VPCFORGE_POLICY_DISABLED", "private-address-block")

	out, err := run(t, "validate", "--list-policies", "--json")
	require.NoError(t, err)

	var listing []policyListing
	require.NoError(t, json.Unmarshal([]byte(out), &listing))
	require.Len(t, listing, 4)

	enabled := make(map[string]bool, len(listing))
	for _, p := range listing {
		enabled[p.Name] = p.Enabled
	}
	assert.False(t, enabled["private-address-block"])
	assert.True(t, enabled["unique-subdivision-names"])

	out, err = run(t, "validate", "--list-policies")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "private-address-block")
}

func TestValidateHonoursDisabledPolicies(t *testing.T) {
	isolate(t)
	t.Setenv("VPCFORGE_POLICY_DISABLED", "unique-subdivision-names")

	path := writeRequest(t, `
name:              "payments"
address_block:     "10.20.0.0/16"
region:            "us-east-1"
subdivision_count: 2
subdivision_names: ["same", "same"]
`)

	_, err := run(t, "validate", path)
	require.NoError(t, err)
}

func TestValidateRejectsUnknownDisabledPolicy(t *testing.T) {
	isolate(t)
	t.Setenv("VPCFORGE_POLICY_DISABLED", "no-such-policy")

	_, err := run(t, "validate", "--list-policies")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy.disabled")
}

func TestValidateRequiresRequestFile(t *testing.T) {
	isolate(t)

	_, err := run(t, "validate")
	require.Error(t, err)
}

func TestValidateCommandPolicyRejection(t *testing.T) {
	isolate(t)

	path := writeRequest(t, `
name:              "payments"
address_block:     "10.20.0.0/16"
region:            "us-east-1"
subdivision_count: 2
subdivision_names: ["same", "same"]
`)

	out, err := run(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected by policy")
	assert.Contains(t, out, "violation: unique-subdivision-names")
}

func TestValidateCommandSchemaError(t *testing.T) {
	isolate(t)

	path := writeRequest(t, `name: "payments"`)

	_, err := run(t, "validate", path)
	assert.Error(t, err)
}

func TestMigrateAndQueryEmptyStore(t *testing.T) {
	isolate(t)

	_, err := run(t, "migrate")
	require.NoError(t, err)

	out, err := run(t, "query")
	require.NoError(t, err)
	assert.Contains(t, out, "No items found")

	out, err = run(t, "query", "--json", "missing")
	require.NoError(t, err)
	assert.Contains(t, out, `"found": false`)
}

func TestUnknownConfigFile(t *testing.T) {
	isolate(t)

	_, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "query")
	assert.Error(t, err)
}

func TestPrintResultWritesWarningsToErrorStream(t *testing.T) {
	jsonOutput = false

	cmd := &cobra.Command{}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	res := &engine.Result{
		Outcome:  engine.OutcomeCreated,
		Message:  "created payments with 0 subdivisions",
		Warnings: []string{"failed to label net-1"},
	}
	require.NoError(t, printResult(cmd, res))

	assert.Contains(t, stdout.String(), "Outcome: created")
	assert.NotContains(t, stdout.String(), "warning:")
	assert.Equal(t, "warning: failed to label net-1\n", stderr.String())
}
