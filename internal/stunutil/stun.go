package stunutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"

	"igmap/internal/addrutil"
)

// DefaultServers are public STUN servers used when none is configured.
var DefaultServers = []string{"stun.l.google.com:19302", "stun.cloudflare.com:3478"}

// Resolver discovers the public IP through STUN binding requests.
type Resolver struct {
	Servers []string
	Timeout time.Duration
}

// PublicAddr returns the host part of the first mapped address.
func (r Resolver) PublicAddr(ctx context.Context) (string, error) {
	addr, err := Probe(ctx, r.Servers, r.Timeout)
	if err != nil {
		return "", err
	}
	return addrutil.Host(addr), nil
}

// Probe queries STUN servers in order for a public mapped address.
func Probe(ctx context.Context, servers []string, timeout time.Duration) (string, error) {
	if len(servers) == 0 {
		return "", fmt.Errorf("no STUN servers provided")
	}

	var lastErr error
	for _, server := range servers {
		addr, err := probeServer(ctx, server, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		return addr, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("STUN probe failed")
	}
	return "", lastErr
}

// NormalizeURI prefixes a bare host:port with the stun: scheme.
func NormalizeURI(server string) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}
	return uriStr, nil
}

func probeServer(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr, err := NormalizeURI(server)
	if err != nil {
		return "", err
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
