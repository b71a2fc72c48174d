package banner

import (
	"bytes"
	"strings"
	"testing"
)

func TestFprintAlignsLabels(t *testing.T) {
	var buf bytes.Buffer
	Fprint(&buf, "grav session manager", []ConfigLine{
		{Label: "HTTP", Value: "0.0.0.0:8080"},
		{Label: "Video sessions", Value: "2"},
	})

	out := buf.String()
	if !strings.Contains(out, "grav session manager\n") {
		t.Errorf("service name missing: %q", out)
	}
	if !strings.Contains(out, "  HTTP           : 0.0.0.0:8080\n") {
		t.Errorf("label not padded: %q", out)
	}
	if !strings.Contains(out, "  Video sessions : 2\n") {
		t.Errorf("config line missing: %q", out)
	}
	if !strings.HasSuffix(out, footer+"\n\n") {
		t.Error("footer missing")
	}
}
