package appliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type the appliance advertises.
const ServiceType = "_fbx-api._tcp"

// HTTPSPort is the fixed local API port. The advertised port is reserved for
// remote access and must not be used on the LAN.
const HTTPSPort = 443

// ErrNoAppliance is returned when discovery completes without a match.
// Callers treat it as a signal to fall back to subnet probing.
var ErrNoAppliance = errors.New("no appliance found")

// Discoverer locates the appliance's local API base URL.
type Discoverer interface {
	Discover(ctx context.Context) (baseURL string, err error)
}

type mdnsDiscoverer struct {
	serviceType string
	httpsPort   int
	logger      *slog.Logger
}

// NewDiscoverer creates an mDNS-based discoverer. Zero values select the
// standard service type and port.
func NewDiscoverer(serviceType string, httpsPort int, logger *slog.Logger) Discoverer {
	if serviceType == "" {
		serviceType = ServiceType
	}
	if httpsPort == 0 {
		httpsPort = HTTPSPort
	}
	return &mdnsDiscoverer{
		serviceType: serviceType,
		httpsPort:   httpsPort,
		logger:      logger.With("component", "discovery"),
	}
}

// Discover browses for the appliance service and returns the base URL of the
// first resolvable instance. The browse is always torn down before returning,
// whatever the outcome; the caller bounds the wait via ctx.
func (d *mdnsDiscoverer) Discover(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, d.serviceType, "local.", entries); err != nil {
		return "", fmt.Errorf("mdns browse: %w", err)
	}

	// zeroconf closes the channel once ctx ends.
	for entry := range entries {
		if entry == nil || len(entry.AddrIPv4) == 0 {
			continue
		}
		host := entry.AddrIPv4[0].String()
		d.logger.Debug("appliance discovered",
			"instance", entry.Instance, "host", host, "advertised_port", entry.Port)
		return fmt.Sprintf("https://%s:%d", host, d.httpsPort), nil
	}
	return "", ErrNoAppliance
}
