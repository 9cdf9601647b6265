package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// executeContextCmd executes a context subcommand with captured output,
// using --root to isolate filesystem state.
func executeContextCmd(t *testing.T, rootPath string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	// Reset package-level flag variables to their defaults.
	// Cobra parses into these variables, so stale values from previous tests
	// would leak if not reset.
	contextRootOverride = ""
	contextJSONOutput = false
	createDescription = ""
	createPatterns = nil
	createEntityTypes = nil
	createIfNotExists = false
	deleteForce = false

	fullArgs := append([]string{"context"}, args...)
	fullArgs = append(fullArgs, "--root", rootPath)

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(fullArgs)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

// executeContextCmdWithStdin executes a context subcommand with piped stdin.
func executeContextCmdWithStdin(t *testing.T, rootPath string, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	contextRootOverride = ""
	contextJSONOutput = false
	createDescription = ""
	createPatterns = nil
	createEntityTypes = nil
	createIfNotExists = false
	deleteForce = false

	fullArgs := append([]string{"context"}, args...)
	fullArgs = append(fullArgs, "--root", rootPath)

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(fullArgs)
	rootCmd.SetIn(strings.NewReader(stdin))

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)
	rootCmd.SetIn(nil)

	return outBuf.String(), errBuf.String(), err
}

// --- Create Tests ---

func TestContextCreate_Defaults(t *testing.T) {
	root := t.TempDir()
	stdout, _, err := executeContextCmd(t, root, "create", "work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout, `Created context "work"`) {
		t.Errorf("stdout = %q, want it to contain 'Created context \"work\"'", stdout)
	}

	if _, err := os.Stat(filepath.Join(root, "work", "lattice.db")); os.IsNotExist(err) {
		t.Error("context directory with lattice.db was not created")
	}
}

func TestContextCreate_WithFlags(t *testing.T) {
	root := t.TempDir()
	stdout, _, err := executeContextCmd(t, root, "create", "work",
		"--description", "Work knowledge",
		"--patterns", "acme,deadline",
		"--entity-types", "project,organization",
		"--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, stdout)
	}

	if result["name"] != "work" {
		t.Errorf("JSON name = %v, want 'work'", result["name"])
	}
	if result["description"] != "Work knowledge" {
		t.Errorf("JSON description = %v, want 'Work knowledge'", result["description"])
	}
	patterns, ok := result["patterns"].([]any)
	if !ok || len(patterns) != 2 {
		t.Errorf("JSON patterns = %v, want two entries", result["patterns"])
	}
}

func TestContextCreate_DuplicateFails(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeContextCmd(t, root, "create", "work")
	if err != nil {
		t.Fatalf("setup: unexpected error: %v", err)
	}

	_, _, err = executeContextCmd(t, root, "create", "work")
	if err == nil {
		t.Fatal("expected error for duplicate context, got nil")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("error = %q, want it to contain 'already exists'", err.Error())
	}
}

func TestContextCreate_DuplicateWithIfNotExists(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeContextCmd(t, root, "create", "work")
	if err != nil {
		t.Fatalf("setup: unexpected error: %v", err)
	}

	_, stderr, err := executeContextCmd(t, root, "create", "work", "--if-not-exists")
	if err != nil {
		t.Fatalf("unexpected error with --if-not-exists: %v", err)
	}
	if !strings.Contains(stderr, "already exists") {
		t.Errorf("stderr = %q, want it to contain 'already exists'", stderr)
	}
}

func TestContextCreate_InvalidName(t *testing.T) {
	root := t.TempDir()
	_, _, err := executeContextCmd(t, root, "create", "Invalid Name")
	if err == nil {
		t.Fatal("expected error for invalid context name, got nil")
	}
	if !strings.Contains(err.Error(), "lowercase alphanumeric") {
		t.Errorf("error = %q, want it to mention the naming rule", err.Error())
	}
}

// --- List Tests ---

func TestContextList_AlwaysHasDefault(t *testing.T) {
	root := t.TempDir()
	stdout, _, err := executeContextCmd(t, root, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout, "default") {
		t.Errorf("stdout = %q, want it to contain the default context", stdout)
	}
	if !strings.Contains(stdout, "NAME") || !strings.Contains(stdout, "ENTITIES") {
		t.Errorf("stdout missing table header:\n%s", stdout)
	}
	// The default context is current on a fresh root.
	if !strings.Contains(stdout, "default *") {
		t.Errorf("stdout = %q, want current marker on default", stdout)
	}
}

func TestContextList_JSONOutput(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeContextCmd(t, root, "create", "work")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeContextCmd(t, root, "list", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, stdout)
	}

	items, ok := result["contexts"].([]any)
	if !ok {
		t.Fatalf("JSON 'contexts' field missing or not an array")
	}
	if len(items) != 2 {
		t.Errorf("JSON contexts count = %d, want 2", len(items))
	}

	total, ok := result["total"].(float64) // JSON numbers are float64
	if !ok {
		t.Fatal("JSON 'total' field missing")
	}
	if int(total) != 2 {
		t.Errorf("JSON total = %v, want 2", total)
	}
}

// --- Info Tests ---

func TestContextInfo(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeContextCmd(t, root, "create", "work", "--description", "Work knowledge")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeContextCmd(t, root, "info", "work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"Context:", "work", "Work knowledge", "Path:"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestContextInfo_JSONOutput(t *testing.T) {
	root := t.TempDir()

	stdout, _, err := executeContextCmd(t, root, "info", "default", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, stdout)
	}

	if result["name"] != "default" {
		t.Errorf("JSON name = %v, want 'default'", result["name"])
	}
	if result["current"] != true {
		t.Errorf("JSON current = %v, want true", result["current"])
	}
	path, _ := result["path"].(string)
	if !strings.HasSuffix(path, "lattice.db") {
		t.Errorf("JSON path = %q, want it to end with lattice.db", path)
	}
}

func TestContextInfo_NotFound(t *testing.T) {
	root := t.TempDir()
	_, _, err := executeContextCmd(t, root, "info", "missing")
	if err == nil {
		t.Fatal("expected error for unknown context, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want it to contain 'not found'", err.Error())
	}
}

// --- Switch Tests ---

func TestContextSwitch_Persists(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeContextCmd(t, root, "create", "work")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeContextCmd(t, root, "switch", "work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, `Switched to context "work"`) {
		t.Errorf("stdout = %q, want switch confirmation", stdout)
	}

	// A separate invocation should see the new current context.
	stdout, _, err = executeContextCmd(t, root, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "work *") {
		t.Errorf("stdout = %q, want current marker on work", stdout)
	}
}

func TestContextSwitch_Unknown(t *testing.T) {
	root := t.TempDir()
	_, _, err := executeContextCmd(t, root, "switch", "missing")
	if err == nil {
		t.Fatal("expected error for unknown context, got nil")
	}
}

// --- Delete Tests ---

func TestContextDelete_WithForce(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeContextCmd(t, root, "create", "work")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeContextCmd(t, root, "delete", "work", "--force")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, `Deleted context "work"`) {
		t.Errorf("stdout = %q, want delete confirmation", stdout)
	}

	if _, err := os.Stat(filepath.Join(root, "work")); !os.IsNotExist(err) {
		t.Error("context directory still exists after delete")
	}
}

func TestContextDelete_CurrentFails(t *testing.T) {
	root := t.TempDir()

	// "default" is current on a fresh root.
	_, _, err := executeContextCmd(t, root, "delete", "default", "--force")
	if err == nil {
		t.Fatal("expected error deleting the current context, got nil")
	}
	if !strings.Contains(err.Error(), "current") {
		t.Errorf("error = %q, want it to mention the current context", err.Error())
	}
}

func TestContextDelete_ConfirmationMatch(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeContextCmd(t, root, "create", "work")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeContextCmdWithStdin(t, root, "work\n", "delete", "work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, `Deleted context "work"`) {
		t.Errorf("stdout = %q, want delete confirmation", stdout)
	}
}

func TestContextDelete_ConfirmationMismatchAborts(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeContextCmd(t, root, "create", "work")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, stderr, err := executeContextCmdWithStdin(t, root, "nope\n", "delete", "work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, "Aborted") {
		t.Errorf("stderr = %q, want abort message", stderr)
	}

	// Context should still exist.
	stdout, _, err := executeContextCmd(t, root, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "work") {
		t.Errorf("stdout = %q, want context to survive aborted delete", stdout)
	}
}
