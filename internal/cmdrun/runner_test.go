package cmdrun

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecRunCapturesOutput(t *testing.T) {
	if !Available("sh") {
		t.Skip("sh not available")
	}
	out, errb, err := Exec{}.Run(context.Background(), "sh", nil, "-c", "printf hello; printf oops >&2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(out) != "hello" || string(errb) != "oops" {
		t.Fatalf("stdout=%q stderr=%q", out, errb)
	}
}

func TestExecRunReportsDeadline(t *testing.T) {
	if !Available("sleep") {
		t.Skip("sleep not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := Exec{}.Run(ctx, "sleep", nil, "5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abc", 5); got != "abc" {
		t.Fatalf("Truncate short = %q", got)
	}
	got := Truncate(strings.Repeat("x", 10), 4)
	if got != "xxxx...(truncated)" {
		t.Fatalf("Truncate long = %q", got)
	}
}
