package probe

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoSubnet is returned when no active non-loopback IPv4 address exists.
var ErrNoSubnet = errors.New("no usable IPv4 subnet")

// localPrefix derives the /24 prefix from the first assigned non-loopback
// IPv4 address: the three octets before the last dot.
func (p *Prober) localPrefix() (string, error) {
	addrs, err := p.interfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("interface addrs: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		parts := strings.Split(ip4.String(), ".")
		if len(parts) == 4 {
			return strings.Join(parts[:3], "."), nil
		}
	}
	return "", ErrNoSubnet
}
