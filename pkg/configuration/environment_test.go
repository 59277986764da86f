package configuration

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv_FallsBackToGoModRoot(t *testing.T) {
	tmp := t.TempDir()

	requireWriteFile(t, filepath.Join(tmp, "go.mod"), "module example.com/test\n\ngo 1.22\n")
	requireWriteFile(t, filepath.Join(tmp, ".env.local"), "ORGTREE_TEST_ENV_LOAD=ok\n")

	sub := filepath.Join(tmp, "pkg", "nested")
	requireMkdirAll(t, sub)

	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	if err := os.Chdir(sub); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	_ = os.Unsetenv("ORGTREE_TEST_ENV_LOAD")

	n, err := LoadEnv([]string{".env", ".env.local"})
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 env file loaded, got %d", n)
	}
	if got := os.Getenv("ORGTREE_TEST_ENV_LOAD"); got != "ok" {
		t.Fatalf("expected env var loaded from repo root, got %q", got)
	}
}

func TestValidateHierarchyBackends(t *testing.T) {
	c := &Configuration{}
	c.Hierarchy.DefaultBackend = "adjacency"
	c.Hierarchy.DepartmentBackend = "closure"
	c.Hierarchy.TeamBackend = "path"
	if err := c.validateHierarchyBackends(); err != nil {
		t.Fatalf("expected valid backends, got %v", err)
	}

	c.Hierarchy.JobBackend = "nested-set"
	if err := c.validateHierarchyBackends(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestBackendFor_FallsBackToDefault(t *testing.T) {
	h := &HierarchyOptions{DefaultBackend: "adjacency", DepartmentBackend: "closure"}
	if got := h.BackendFor("department"); got != "closure" {
		t.Fatalf("department backend = %q", got)
	}
	if got := h.BackendFor("job"); got != "adjacency" {
		t.Fatalf("job backend = %q", got)
	}
	if got := h.BackendFor("unknown-kind"); got != "adjacency" {
		t.Fatalf("unknown kind backend = %q", got)
	}
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func requireMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}
