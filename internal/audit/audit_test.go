package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordsAppendAsReadableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := l.Begin(3); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Put(3, "name", "Alice"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := l.Delete(3, "old key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := l.Commit(3); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	want := []string{
		`(begin 3)`,
		`(put 3 "name" "Alice")`,
		`(delete 3 "old key")`,
		`(commit 3)`,
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(lines), len(want), lines)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestReopenAppendsRatherThanTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l1, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l1.Put(0, "a", int64(1)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := l1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := l2.Put(0, "b", int64(2)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := l2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines after reopen, want 2: %v", len(lines), lines)
	}
}

func TestQuoteEscapesSpecialCharacters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Put(0, `has "quotes"`, "line1\nline2"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := strings.TrimRight(string(buf), "\n")
	want := `(put 0 "has \"quotes\"" "line1\nline2")`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
