package probe

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"igmap/internal/addrutil"
	"igmap/internal/execx"
)

var (
	unixAvgRe    = regexp.MustCompile(`min/avg/max(?:/\S+)? = [\d.]+/([\d.]+)/`)
	windowsAvgRe = regexp.MustCompile(`Average = (\d+)ms`)
)

// PingProber runs the system ping utility.
type PingProber struct {
	runner execx.Runner
	goos   string
}

// NewPingProber returns a prober for the host OS. A nil runner uses os/exec.
func NewPingProber(r execx.Runner) *PingProber {
	return NewPingProberFor(r, runtime.GOOS)
}

// NewPingProberFor targets the ping flavour of goos.
func NewPingProberFor(r execx.Runner, goos string) *PingProber {
	if r == nil {
		r = execx.NewOSRunner(nil, nil)
	}
	return &PingProber{runner: r, goos: goos}
}

// Measure pings address count times and returns the reported average.
func (p *PingProber) Measure(ctx context.Context, address string, count int, timeout time.Duration) (float64, error) {
	host := addrutil.Host(address)
	if host == "" {
		return 0, ErrEmptyAddress
	}
	args, err := pingArgs(p.goos, host, count)
	if err != nil {
		return 0, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := p.runner.Output(ctx, "ping", args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("ping %s timed out after %s", host, timeout)
		}
		return 0, fmt.Errorf("ping %s: %w", host, err)
	}
	return ParseAverage(p.goos, out)
}

func pingArgs(goos, host string, count int) ([]string, error) {
	if count < 1 {
		count = 1
	}
	switch goos {
	case "windows":
		return []string{"-n", strconv.Itoa(count), "-w", "1000", host}, nil
	case "linux", "darwin", "freebsd", "openbsd", "netbsd":
		return []string{"-c", strconv.Itoa(count), "-W", "1", host}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, goos)
	}
}

// ParseAverage extracts the average round-trip time from ping output.
func ParseAverage(goos, output string) (float64, error) {
	re := unixAvgRe
	if goos == "windows" {
		re = windowsAvgRe
	}
	m := re.FindStringSubmatch(output)
	if m == nil {
		return 0, ErrMalformedOutput
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return v, nil
}
