package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// HostnameUnresolved is the sentinel hostname for hosts whose reverse lookup
// failed or returned the address itself.
const HostnameUnresolved = "unresolved"

const (
	defaultPort    = 135
	defaultTimeout = 50 * time.Millisecond

	hostMin = 1
	hostMax = 254
)

// Device is a single live host found by a subnet sweep. Probe results carry
// no hardware address: the platform offers no ARP access to applications.
type Device struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
}

// Config holds prober settings.
type Config struct {
	Port        int           // TCP probe port, default 135
	Timeout     time.Duration // per-probe dial timeout, default 50ms
	Prefix      string        // /24 prefix override ("192.168.1"); autodetected when empty
	MDNS        bool          // enrich unresolved hostnames via one-shot mDNS
	MDNSTimeout time.Duration // default 2s
}

// Prober sweeps a /24 subnet for live hosts.
type Prober struct {
	cfg    Config
	logger *slog.Logger

	// Injection points for tests.
	dialContext    func(ctx context.Context, network, addr string) (net.Conn, error)
	lookupAddr     func(ctx context.Context, addr string) ([]string, error)
	interfaceAddrs func() ([]net.Addr, error)
	mdnsNames      func(timeout time.Duration) map[string]string
}

// New creates a prober.
func New(cfg Config, logger *slog.Logger) *Prober {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MDNSTimeout == 0 {
		cfg.MDNSTimeout = 2 * time.Second
	}
	p := &Prober{
		cfg:            cfg,
		logger:         logger.With("component", "probe"),
		interfaceAddrs: net.InterfaceAddrs,
		mdnsNames:      mdnsNameByIP,
	}
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	p.dialContext = dialer.DialContext
	resolver := &net.Resolver{}
	p.lookupAddr = resolver.LookupAddr
	return p
}

// Scan probes all 254 host addresses of the local /24 concurrently and
// returns the live subset sorted ascending by numeric address. Every probe
// runs independently; one address failing never aborts the rest.
func (p *Prober) Scan(ctx context.Context) ([]Device, error) {
	prefix := p.cfg.Prefix
	if prefix == "" {
		var err error
		prefix, err = p.localPrefix()
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	var (
		mu      sync.Mutex
		results []Device
		wg      sync.WaitGroup
	)
	for i := hostMin; i <= hostMax; i++ {
		ip := fmt.Sprintf("%s.%d", prefix, i)
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			if !p.probe(ctx, ip) {
				return
			}
			name := p.resolve(ctx, ip)
			mu.Lock()
			results = append(results, Device{IP: ip, Hostname: name})
			mu.Unlock()
		}(ip)
	}
	wg.Wait()

	if p.cfg.MDNS {
		p.fillMDNSNames(results)
	}

	sort.Slice(results, func(i, j int) bool {
		return sortKey(results[i].IP) < sortKey(results[j].IP)
	})

	p.logger.Debug("subnet sweep done",
		"prefix", prefix, "alive", len(results), "elapsed", time.Since(start))
	return results, nil
}

// probe reports whether a host answers at ip. A completed connection and an
// active refusal both prove a host is there; a timeout proves nothing and
// counts as absence.
func (p *Prober) probe(ctx context.Context, ip string) bool {
	conn, err := p.dialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(p.cfg.Port)))
	if err == nil {
		conn.Close()
		return true
	}
	return hostAlive(err)
}

func hostAlive(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// resolve performs a best-effort reverse lookup. Failures are swallowed and
// never affect the liveness result.
func (p *Prober) resolve(ctx context.Context, ip string) string {
	names, err := p.lookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return HostnameUnresolved
	}
	name := strings.TrimSuffix(names[0], ".")
	if name == "" || name == ip {
		return HostnameUnresolved
	}
	return name
}

// fillMDNSNames replaces unresolved hostnames with names harvested from a
// one-shot multicast DNS query. Best effort.
func (p *Prober) fillMDNSNames(results []Device) {
	pending := 0
	for i := range results {
		if results[i].Hostname == HostnameUnresolved {
			pending++
		}
	}
	if pending == 0 {
		return
	}
	names := p.mdnsNames(p.cfg.MDNSTimeout)
	if len(names) == 0 {
		return
	}
	for i := range results {
		if results[i].Hostname != HostnameUnresolved {
			continue
		}
		if n, ok := names[results[i].IP]; ok && n != "" {
			results[i].Hostname = n
		}
	}
}

// sortKey maps a dotted quad to a numeric key, each octet a base-1000 digit.
func sortKey(ip string) uint64 {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ^uint64(0)
	}
	var key uint64
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return ^uint64(0)
		}
		key = key*1000 + uint64(n)
	}
	return key
}
