package direct

import (
	"context"
	"testing"
	"time"
)

func TestProbePeer_RoundTrip(t *testing.T) {
	t.Parallel()

	resp, err := StartResponder("127.0.0.1:0")
	if err != nil {
		t.Fatalf("StartResponder: %v", err)
	}
	defer resp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rtt, err := ProbePeer(ctx, "127.0.0.1:0", resp.LocalAddr(), 2*time.Second)
	if err != nil {
		t.Fatalf("ProbePeer: %v", err)
	}
	if rtt <= 0 {
		t.Fatalf("rtt=%s", rtt)
	}
}

func TestProbePeer_NoResponder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := ProbePeer(ctx, "127.0.0.1:0", "127.0.0.1:19998", 200*time.Millisecond); err == nil {
		t.Fatal("expected timeout")
	}
}
