package build

import (
	"bytes"
	"strings"
	"testing"
)

func TestWrite(t *testing.T) {
	Version = "v0.1.0"
	defer func() { Version = "" }()

	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Version:\tv0.1.0") {
		t.Fatalf("missing version in %q", out)
	}
	if !strings.Contains(out, "Branch:\t\tunknown") {
		t.Fatalf("unset fields should read unknown: %q", out)
	}
}
