package geoip

import (
	"context"

	"github.com/sirupsen/logrus"
)

// AddressResolver discovers the caller's public IP.
type AddressResolver interface {
	PublicAddr(ctx context.Context) (string, error)
}

type locator interface {
	Locate(ctx context.Context) (Location, error)
}

// ResolvingLocator fills in Location.IP from a resolver when the wrapped
// locator did not report one.
type ResolvingLocator struct {
	next     locator
	resolver AddressResolver
	log      logrus.FieldLogger
}

// WithAddressResolver wraps next. A nil resolver makes the wrapper a no-op.
func WithAddressResolver(next locator, resolver AddressResolver, log logrus.FieldLogger) *ResolvingLocator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ResolvingLocator{next: next, resolver: resolver, log: log}
}

func (l *ResolvingLocator) Locate(ctx context.Context) (Location, error) {
	loc, err := l.next.Locate(ctx)
	if err != nil || loc.IP != "" || l.resolver == nil {
		return loc, err
	}
	ip, rerr := l.resolver.PublicAddr(ctx)
	if rerr != nil {
		// The location is still usable; the node just won't be probed.
		l.log.WithError(rerr).Warn("public address discovery failed")
		return loc, nil
	}
	loc.IP = ip
	return loc, nil
}
