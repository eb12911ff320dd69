package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const snapshotDoc = `
types:
  - id: p.Point
    name: Point
    fields:
      - name: X
      - name: Y
    constructors:
      - access: public
routines:
  - name: main
    vars:
      - name: p
        type: p.Point
    blocks:
      - nodes:
          - op: assign
            var: p
            path: X
            pos: {file: m.cx, line: 2, col: 1}
          - op: read
            var: p
            path: Y
            pos: {file: m.cx, line: 3, col: 1}
sites: []
`

const cleanSnapshotDoc = `
types:
  - id: p.Point
    name: Point
    fields:
      - name: X
    constructors:
      - access: public
routines:
  - name: main
    vars:
      - name: p
        type: p.Point
    blocks:
      - nodes:
          - op: assignWhole
            var: p
            pos: {file: m.cx, line: 2, col: 1}
sites: []
`

func writeSnapshot(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snap.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing snapshot: %v", err)
	}
	return path
}

func TestRunReportsViolation(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{writeSnapshot(t, snapshotDoc)}, &stdout, &stderr)
	if code != exitFatal {
		t.Fatalf("exit = %d, want %d; stderr: %s", code, exitFatal, stderr.String())
	}
	if !strings.Contains(stdout.String(), "[D001]") {
		t.Errorf("output missing D001: %q", stdout.String())
	}
}

func TestRunCleanSnapshot(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{writeSnapshot(t, cleanSnapshotDoc)}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit = %d, want %d; stderr: %s", code, exitOK, stderr.String())
	}
	if !strings.Contains(stdout.String(), "no findings") {
		t.Errorf("output = %q", stdout.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Run(nil, &stdout, &stderr); code != exitError {
		t.Fatalf("no-args exit = %d, want %d", code, exitError)
	}
	if code := Run([]string{"missing.yaml"}, &stdout, &stderr); code != exitError {
		t.Fatalf("missing-snapshot exit = %d, want %d", code, exitError)
	}
}

func TestRunCacheReuse(t *testing.T) {
	snap := writeSnapshot(t, snapshotDoc)
	cachePath := filepath.Join(t.TempDir(), "results.db")

	var first, second bytes.Buffer
	var stderr bytes.Buffer
	if code := Run([]string{"-cache", cachePath, snap}, &first, &stderr); code != exitFatal {
		t.Fatalf("first run exit = %d; stderr: %s", code, stderr.String())
	}
	if code := Run([]string{"-cache", cachePath, snap}, &second, &stderr); code != exitFatal {
		t.Fatalf("cached run exit = %d; stderr: %s", code, stderr.String())
	}
	if first.String() != second.String() {
		t.Errorf("cached output differs:\n%q\n%q", first.String(), second.String())
	}
}

func TestVersionFlagChangesPolicy(t *testing.T) {
	// The snapshot is policy-insensitive here; the flag must at least parse
	// and run end to end.
	var stdout, stderr bytes.Buffer
	if code := Run([]string{"-version", "1.4", writeSnapshot(t, cleanSnapshotDoc)}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit = %d; stderr: %s", code, stderr.String())
	}
	if code := Run([]string{"-version", "nope", writeSnapshot(t, cleanSnapshotDoc)}, &stdout, &stderr); code != exitError {
		t.Fatalf("bad version accepted, exit = %d", code)
	}
}
