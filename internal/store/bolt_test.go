package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{
		MAC:      "AA:BB:CC:DD:EE:01",
		IP:       "192.168.1.42",
		Hostname: "printer.lan",
		Online:   true,
		LastSeen: time.Now().UnixMilli(),
		Source:   SourceAppliance,
	}

	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(dev.MAC)
	if err != nil {
		t.Fatal(err)
	}

	if got.MAC != dev.MAC {
		t.Errorf("mac = %q, want %q", got.MAC, dev.MAC)
	}
	if got.IP != dev.IP {
		t.Errorf("ip = %q, want %q", got.IP, dev.IP)
	}
	if got.Hostname != dev.Hostname {
		t.Errorf("hostname = %q, want %q", got.Hostname, dev.Hostname)
	}
	if !got.Online {
		t.Error("online = false, want true")
	}
	if got.LastSeen != dev.LastSeen {
		t.Errorf("last_seen = %d, want %d", got.LastSeen, dev.LastSeen)
	}
}

func TestSaveDeviceWithoutMAC(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveDevice(&Device{IP: "192.168.1.1"}); err == nil {
		t.Fatal("expected error for device without MAC")
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDevice("00:00:00:00:00:00")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{MAC: "AA:BB:CC:DD:EE:02", IP: "192.168.1.5", Online: true}
	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateDevice(dev.MAC, func(d *Device) error {
		d.Online = false
		d.Hostname = "nas"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(dev.MAC)
	if err != nil {
		t.Fatal(err)
	}
	if got.Online {
		t.Error("online = true, want false")
	}
	if got.Hostname != "nas" {
		t.Errorf("hostname = %q, want %q", got.Hostname, "nas")
	}

	err = s.UpdateDevice("FF:FF:FF:FF:FF:FF", func(d *Device) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: err = %v, want ErrNotFound", err)
	}
}

func TestListDevicesSortedByIP(t *testing.T) {
	s := newTestStore(t)

	devs := []*Device{
		{MAC: "AA:00:00:00:00:01", IP: "192.168.1.100"},
		{MAC: "AA:00:00:00:00:02", IP: "192.168.1.9"},
		{MAC: "AA:00:00:00:00:03", IP: "192.168.1.10"},
		{MAC: "AA:00:00:00:00:04", IP: "10.0.0.1"},
	}
	for _, d := range devs {
		if err := s.SaveDevice(d); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 4 {
		t.Fatalf("list count = %d, want 4", len(list))
	}

	want := []string{"10.0.0.1", "192.168.1.9", "192.168.1.10", "192.168.1.100"}
	for i, ip := range want {
		if list[i].IP != ip {
			t.Errorf("list[%d].IP = %q, want %q", i, list[i].IP, ip)
		}
	}
}

func TestMarkAllOffline(t *testing.T) {
	s := newTestStore(t)

	for _, d := range []*Device{
		{MAC: "AA:00:00:00:00:01", IP: "192.168.1.1", Online: true},
		{MAC: "AA:00:00:00:00:02", IP: "192.168.1.2", Online: true},
		{MAC: "AA:00:00:00:00:03", IP: "192.168.1.3", Online: false},
	} {
		if err := s.SaveDevice(d); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.MarkAllOffline(); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3 (records must not be deleted)", len(list))
	}
	for _, d := range list {
		if d.Online {
			t.Errorf("device %s still online after MarkAllOffline", d.MAC)
		}
	}
}

func TestDeleteAllDevices(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveDevice(&Device{MAC: "AA:00:00:00:00:01", IP: "192.168.1.1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteAllDevices(); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("list count = %d, want 0", len(list))
	}

	// Store remains usable after the reset.
	if err := s.SaveDevice(&Device{MAC: "AA:00:00:00:00:02", IP: "192.168.1.2"}); err != nil {
		t.Fatal(err)
	}
}

func TestAppToken(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AppToken(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := s.SaveAppToken("tok-12345"); err != nil {
		t.Fatal(err)
	}
	tok, err := s.AppToken()
	if err != nil {
		t.Fatal(err)
	}
	if tok != "tok-12345" {
		t.Errorf("token = %q, want %q", tok, "tok-12345")
	}

	if err := s.DeleteAppToken(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppToken(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: err = %v, want ErrNotFound", err)
	}
}

func TestIPSortKey(t *testing.T) {
	if ipSortKey("192.168.1.9") >= ipSortKey("192.168.1.10") {
		t.Error("numeric sort: .9 must come before .10")
	}
	if ipSortKey("9.0.0.0") >= ipSortKey("10.0.0.0") {
		t.Error("numeric sort: 9.x must come before 10.x")
	}
	if ipSortKey("not-an-ip") != ^uint64(0) {
		t.Error("invalid address must sort last")
	}
	if ipSortKey("192.168.1") != ^uint64(0) {
		t.Error("short address must sort last")
	}
}
