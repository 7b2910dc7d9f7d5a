package execx

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"
	"time"
)

func TestOSRunner_Output(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	t.Parallel()

	r := NewOSRunner(&bytes.Buffer{}, &bytes.Buffer{})
	out, err := r.Output(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out != "hello" {
		t.Fatalf("out=%q", out)
	}
}

func TestOSRunner_OutputExitError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	t.Parallel()

	r := NewOSRunner(nil, nil)
	out, err := r.Output(context.Background(), "sh", "-c", "echo 100% packet loss; exit 1")
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("err=%v", err)
	}
	if ee.Code != 1 {
		t.Fatalf("code=%d", ee.Code)
	}
	if out != "100% packet loss" {
		t.Fatalf("out=%q", out)
	}
}

func TestOSRunner_OutputDeadline(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewOSRunner(nil, nil).Output(ctx, "sleep", "5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}
