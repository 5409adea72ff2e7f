package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/hylla/tt3/internal/app"
)

// TestMain sets deterministic environment defaults for CLI tests.
func TestMain(m *testing.M) {
	_ = os.Setenv("TT3_DEV_MODE", "false")
	_ = os.Setenv("TT3_SECURITY_BCRYPT_COST", "4")
	os.Exit(m.Run())
}

// execute runs the command tree with args and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// workspaceArgs returns the global flags selecting a fresh workspace file.
func workspaceArgs(t *testing.T, typ string) []string {
	t.Helper()
	dir := t.TempDir()
	return []string{
		"--config", filepath.Join(dir, "missing.toml"),
		"--type", typ,
		"--db", filepath.Join(dir, "workspace."+typ),
	}
}

// TestRunPathsCommand verifies behavior for the covered scenario.
func TestRunPathsCommand(t *testing.T) {
	stdout, _, err := execute(t, "", "--app", "tt3-test", "paths")
	if err != nil {
		t.Fatalf("paths error = %v", err)
	}
	for _, want := range []string{"app: tt3-test", "dev_mode: false", "config:", "sqlite:", "xml:"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("paths output missing %q:\n%s", want, stdout)
		}
	}
}

// TestRunInitLoginStats verifies behavior for the covered scenario.
func TestRunInitLoginStats(t *testing.T) {
	for _, typ := range []string{"sqlite", "xml"} {
		t.Run(typ, func(t *testing.T) {
			global := workspaceArgs(t, typ)
			run := func(stdin string, args ...string) (string, error) {
				stdout, _, err := execute(t, stdin, append(append([]string{}, global...), args...)...)
				return stdout, err
			}

			out, err := run("", "init", "--login", "root", "--password", "s3cret", "--name", "Root")
			if err != nil {
				t.Fatalf("init error = %v", err)
			}
			if !strings.Contains(out, "created "+typ+" workspace") {
				t.Fatalf("unexpected init output %q", out)
			}

			out, err = run("s3cret\n", "login", "--login", "root")
			if err != nil {
				t.Fatalf("login error = %v", err)
			}
			if !strings.Contains(out, "capabilities: Administrator") {
				t.Fatalf("unexpected login output %q", out)
			}

			out, err = run("", "stats", "--login", "root", "--password", "s3cret")
			if err != nil {
				t.Fatalf("stats error = %v", err)
			}
			for _, want := range []string{"objects: 2", "users: 1", "accounts: 1", "projects: 0"} {
				if !strings.Contains(out, want) {
					t.Fatalf("stats output missing %q:\n%s", want, out)
				}
			}

			_, err = run("", "login", "--login", "root", "--password", "wrong")
			if !app.IsKind(err, app.KindAccessDenied) {
				t.Fatalf("login with wrong password error = %v, want access denied", err)
			}
		})
	}
}

// TestRunInitRefusesExistingWorkspace verifies behavior for the covered scenario.
func TestRunInitRefusesExistingWorkspace(t *testing.T) {
	global := workspaceArgs(t, "xml")
	args := append(append([]string{}, global...), "init", "--login", "root", "--password", "pw")
	if _, _, err := execute(t, "", args...); err != nil {
		t.Fatalf("first init error = %v", err)
	}
	if _, _, err := execute(t, "", args...); err == nil {
		t.Fatal("expected second init to fail")
	}
}

// TestRunRejectsBadInput verifies behavior for the covered scenario.
func TestRunRejectsBadInput(t *testing.T) {
	global := workspaceArgs(t, "sqlite")
	cases := map[string][]string{
		"unknown type":     {"--type", "csv", "--db", filepath.Join(t.TempDir(), "x"), "login", "--login", "a", "--password", "b"},
		"missing login":    append(append([]string{}, global...), "stats"),
		"missing database": append(append([]string{}, global...), "login", "--login", "a", "--password", "b"),
		"unknown command":  {"serve"},
		"no password":      append(append([]string{}, global...), "login", "--login", "a"),
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := execute(t, "", args...); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		})
	}
}

// TestNewRuntimeLoggerHonorsLevel verifies behavior for the covered scenario.
func TestNewRuntimeLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newRuntimeLogger(&buf, "tt3", log.WarnLevel)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") || !strings.Contains(out, "tt3") {
		t.Fatalf("unexpected log output %q", out)
	}
}

// TestParseBoolEnv verifies behavior for the covered scenario.
func TestParseBoolEnv(t *testing.T) {
	t.Setenv("TT3_TEST_BOOL", "yes")
	if v, ok := parseBoolEnv("TT3_TEST_BOOL"); !ok || !v {
		t.Fatalf("parseBoolEnv(yes) = %v, %v", v, ok)
	}
	t.Setenv("TT3_TEST_BOOL", "maybe")
	if _, ok := parseBoolEnv("TT3_TEST_BOOL"); ok {
		t.Fatal("parseBoolEnv(maybe) ok = true")
	}
}
