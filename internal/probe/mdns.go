package probe

import (
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// mdnsNameByIP sends a one-shot multicast DNS service query and harvests
// A/AAAA records from the replies into an address -> name map. Hosts that
// refuse reverse DNS often still announce themselves over mDNS.
func mdnsNameByIP(timeout time.Duration) map[string]string {
	out := map[string]string{}

	addr := &net.UDPAddr{IP: net.ParseIP("224.0.0.251"), Port: 5353}

	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return out
	}
	defer conn.Close()

	_ = conn.SetReadBuffer(1 << 20)

	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn("_services._dns-sd._udp.local"), dns.TypePTR)

	b, err := q.Pack()
	if err != nil {
		return out
	}

	// Send twice; multicast queries get lost.
	_, _ = conn.WriteToUDP(b, addr)
	time.Sleep(50 * time.Millisecond)
	_, _ = conn.WriteToUDP(b, addr)

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 65536)

	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}

		m := new(dns.Msg)
		if err := m.Unpack(buf[:n]); err != nil {
			continue
		}

		for _, rr := range append(m.Answer, m.Extra...) {
			if t, ok := rr.(*dns.A); ok {
				name := strings.TrimSuffix(t.Hdr.Name, ".")
				if name != "" {
					out[t.A.String()] = name
				}
			}
		}
	}

	return out
}
