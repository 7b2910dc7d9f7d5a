package probe

import (
	"context"
	"fmt"
	"time"

	"igmap/internal/addrutil"
	"igmap/internal/direct"
)

// EchoProber measures latency against an igmap echo responder.
type EchoProber struct {
	Port      int
	LocalAddr string
}

func NewEchoProber(port int) *EchoProber {
	if port <= 0 {
		port = direct.DefaultPort
	}
	return &EchoProber{Port: port, LocalAddr: ":0"}
}

// Measure sends count sequential probes and averages the acked ones.
func (p *EchoProber) Measure(ctx context.Context, address string, count int, timeout time.Duration) (float64, error) {
	target, ok := addrutil.ProbeAddr(address, p.Port)
	if !ok {
		return 0, ErrEmptyAddress
	}
	if count < 1 {
		count = 1
	}
	perProbe := timeout / time.Duration(count)
	if perProbe <= 0 {
		perProbe = time.Second
	}

	var (
		sum     float64
		replies int
		lastErr error
	)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		rtt, err := direct.ProbePeer(ctx, p.LocalAddr, target, perProbe)
		if err != nil {
			lastErr = err
			continue
		}
		sum += durationMs(rtt)
		replies++
	}
	if replies == 0 {
		if lastErr != nil {
			return 0, fmt.Errorf("%w from %s: %v", ErrNoReplies, target, lastErr)
		}
		return 0, fmt.Errorf("%w from %s", ErrNoReplies, target)
	}
	return sum / float64(replies), nil
}
