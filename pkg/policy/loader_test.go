package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "test-policy.rego")

	regoContent := `# Test policy for validation
# severity: critical
package test.policy

import rego.v1

deny contains msg if {
	input.request.name == "invalid"
	msg := "Invalid network name"
}`

	if err := os.WriteFile(policyFile, []byte(regoContent), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policies, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected one policy, got %d", len(policies))
	}

	policy := policies[0]
	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Description != "Test policy for validation" {
		t.Errorf("Unexpected description '%s'", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("Expected critical severity, got %s", policy.Severity)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "test-policy.json")

	data, err := json.Marshal(Policy{
		Name:    "test-json-policy",
		Rego:    "package test\n\nimport rego.v1\n\ndeny contains msg if { false; msg := \"\" }",
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	if err := os.WriteFile(policyFile, data, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policies, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "test-json-policy" {
		t.Fatalf("Unexpected policies %+v", policies)
	}
	if policies[0].Severity != SeverityWarning {
		t.Errorf("Expected default warning severity, got %s", policies[0].Severity)
	}
}

func TestLoadFromFile_Bundle(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	bundleFile := filepath.Join(tmpDir, "bundle.json")

	data, err := json.Marshal(Bundle{
		Name:    "governance",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "one", Rego: "package one", Enabled: true},
			{Name: "two", Rego: "package two", Enabled: true, Severity: SeverityError},
		},
	})
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	if err := os.WriteFile(bundleFile, data, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policies, err := loader.loadFromFile(context.Background(), bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	if policies[1].Severity != SeverityError {
		t.Errorf("Expected error severity, got %s", policies[1].Severity)
	}
}

func TestLoadFromFile_JSONWithoutName(t *testing.T) {
	loader := newTestLoader()

	policyFile := filepath.Join(t.TempDir(), "unnamed.json")
	if err := os.WriteFile(policyFile, []byte(`{"rego": "package x"}`), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Fatal("Expected error for policy without a name")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := newTestLoader()
	tmpDir := t.TempDir()

	files := map[string]string{
		"a.rego":          "package a",
		"nested/b.rego":   "package b",
		"c.json":          `{"name": "c", "rego": "package c"}`,
		"README.md":       "not a policy",
		"nested/bad.json": "{",
	}
	for name, content := range files {
		path := filepath.Join(tmpDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	policies, err := loader.LoadFromPaths(context.Background(), []string{tmpDir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(policies) != 3 {
		t.Errorf("Expected 3 policies, got %d", len(policies))
	}
}

func TestLoadFromPaths_Missing(t *testing.T) {
	loader := newTestLoader()

	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"}); err == nil {
		t.Fatal("Expected error for missing path")
	}
}

func TestLoaderCache(t *testing.T) {
	loader := newTestLoader()

	policyFile := filepath.Join(t.TempDir(), "cached.rego")
	if err := os.WriteFile(policyFile, []byte("package first"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := loader.loadFromFile(context.Background(), policyFile); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if err := os.WriteFile(policyFile, []byte("package second"), 0644); err != nil {
		t.Fatalf("Failed to rewrite test file: %v", err)
	}

	cached, _ := loader.loadFromFile(context.Background(), policyFile)
	if cached[0].Rego != "package first" {
		t.Error("Expected cached content")
	}

	var reloaded []Policy
	err := loader.triggerReload(context.Background(), []string{policyFile}, func(policies []Policy) error {
		reloaded = policies
		return nil
	})
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(reloaded) != 1 || reloaded[0].Rego != "package second" {
		t.Error("Expected a reload to read fresh content")
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	loader := newTestLoader()
	loader.ReloadDelay = 20 * time.Millisecond

	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "a.rego"), []byte("package a"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		reloaded []Policy
	)
	done := make(chan struct{}, 1)
	err := loader.Watch(ctx, []string{tmpDir}, func(policies []Policy) error {
		mu.Lock()
		reloaded = policies
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "b.rego"), []byte("package b"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reloaded) != 2 {
		t.Errorf("Expected 2 policies after reload, got %d", len(reloaded))
	}
}
