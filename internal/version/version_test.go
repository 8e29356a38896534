package version

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestPrintVersionInfo_DoesNotPanicAndWritesVersion(t *testing.T) {
	var buf bytes.Buffer
	vlog := log.New(&buf, "", 0)

	PrintVersionInfo(true, vlog)

	out := buf.String()
	if !strings.Contains(out, Commit) {
		t.Fatalf("expected extended output to include the commit, got %q", out)
	}
}

func TestPrintVersionInfo_BasicModeOmitsExtendedFields(t *testing.T) {
	var buf bytes.Buffer
	vlog := log.New(&buf, "", 0)

	PrintVersionInfo(false, vlog)

	out := buf.String()
	if strings.Contains(out, "Commit: ") {
		t.Fatal("expected basic output to omit the Commit line")
	}
}
