package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/local/debooklet/internal/pdftest"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestLayoutCommand(t *testing.T) {
	out, _, err := execute(t, "layout", "16")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	want := []string{
		"Sheet 0: [LEFT: 16] [RIGHT:  1]",
		"Sheet 1: [LEFT:  2] [RIGHT: 15]",
		"Sheet 2: [LEFT: 14] [RIGHT:  3]",
		"Sheet 3: [LEFT:  4] [RIGHT: 13]",
		"Sheet 4: [LEFT: 12] [RIGHT:  5]",
		"Sheet 5: [LEFT:  6] [RIGHT: 11]",
		"Sheet 6: [LEFT: 10] [RIGHT:  7]",
		"Sheet 7: [LEFT:  8] [RIGHT:  9]",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLayoutCommandPages(t *testing.T) {
	out, _, err := execute(t, "layout", "--pages", "8")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Page  1: sheet 0, right\nPage  2: sheet 1, left\n") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestLayoutCommandRejectsBadCounts(t *testing.T) {
	for _, arg := range []string{"6", "0", "x"} {
		if _, _, err := execute(t, "layout", arg); err == nil {
			t.Errorf("layout %s: expected error", arg)
		}
	}
}

func TestConvertViaRootArgs(t *testing.T) {
	dir := t.TempDir()
	in := pdftest.WriteBooklet(t, "booklet.pdf", pdftest.Options{Sheets: 4})
	outPath := filepath.Join(dir, "normal.pdf")

	stdout, stderr, err := execute(t, in, outPath)
	if err != nil {
		t.Fatalf("convert: %v\n%s", err, stderr)
	}
	if !strings.Contains(stdout, "Booklet had 4 sheets (8 logical pages)") {
		t.Errorf("unexpected stdout:\n%s", stdout)
	}
	if !strings.Contains(stderr, "Extracting page 1: sheet 0, right") {
		t.Errorf("per-page progress missing from log:\n%s", stderr)
	}
	n, err := api.PageCountFile(outPath)
	if err != nil || n != 8 {
		t.Fatalf("output pages: %d %v", n, err)
	}
}

func TestConvertFailureLeavesNoOutput(t *testing.T) {
	in := pdftest.WriteBooklet(t, "odd.pdf", pdftest.Options{Sheets: 3})
	outPath := filepath.Join(t.TempDir(), "normal.pdf")

	if _, _, err := execute(t, "convert", in, outPath); err == nil {
		t.Fatal("expected error for 3-sheet booklet")
	}
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Errorf("output should not exist, stat err = %v", err)
	}
}

func TestRootArgCount(t *testing.T) {
	if _, _, err := execute(t, "only-one.pdf"); err == nil {
		t.Error("expected error for a single argument")
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "debooklet version "+version {
		t.Errorf("got %q", out)
	}
}
