package probe

import (
	"errors"
	"net"
	"testing"
)

func ipNet(cidr string) *net.IPNet {
	ip, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func TestLocalPrefix(t *testing.T) {
	tests := []struct {
		name    string
		addrs   []net.Addr
		want    string
		wantErr error
	}{
		{
			name: "picks first non-loopback ipv4",
			addrs: []net.Addr{
				ipNet("127.0.0.1/8"),
				ipNet("fe80::1/64"),
				ipNet("192.168.100.23/24"),
				ipNet("10.0.0.5/8"),
			},
			want: "192.168.100",
		},
		{
			name:    "only loopback",
			addrs:   []net.Addr{ipNet("127.0.0.1/8")},
			wantErr: ErrNoSubnet,
		},
		{
			name:    "only ipv6",
			addrs:   []net.Addr{ipNet("fe80::1/64"), ipNet("2001:db8::1/64")},
			wantErr: ErrNoSubnet,
		},
		{
			name:    "no addresses",
			addrs:   nil,
			wantErr: ErrNoSubnet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Config{}, testLogger())
			p.interfaceAddrs = func() ([]net.Addr, error) { return tt.addrs, nil }

			got, err := p.localPrefix()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("prefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocalPrefixAddrsError(t *testing.T) {
	p := New(Config{}, testLogger())
	p.interfaceAddrs = func() ([]net.Addr, error) { return nil, errors.New("netlink down") }
	if _, err := p.localPrefix(); err == nil {
		t.Fatal("expected error when interface enumeration fails")
	}
}
