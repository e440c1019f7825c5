package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"lanscout/internal/appliance"
	"lanscout/internal/probe"
	"lanscout/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProber struct {
	devices []probe.Device
	err     error
	calls   int
}

func (p *stubProber) Scan(context.Context) ([]probe.Device, error) {
	p.calls++
	return p.devices, p.err
}

type stubAppliance struct {
	hosts  []appliance.Host
	err    error
	state  appliance.State
	forgot bool
}

func (a *stubAppliance) FetchHosts(context.Context) ([]appliance.Host, error) {
	return a.hosts, a.err
}

func (a *stubAppliance) State() appliance.State { return a.state }

func (a *stubAppliance) Forget() error {
	a.forgot = true
	a.state = appliance.State{Kind: appliance.StateIdle}
	return nil
}

func newTestCoordinator(t *testing.T, p Prober, app Appliance) (*Coordinator, *store.BoltStore) {
	t.Helper()
	st := newTestStore(t)
	logger := discardLogger()
	return New(p, app, st, NewEventBus(logger), logger), st
}

func TestScanAppliancePathPersists(t *testing.T) {
	app := &stubAppliance{
		hosts: []appliance.Host{
			{Name: "printer", MAC: "AA:BB:CC:00:00:02", Addr: "192.168.1.30"},
			{Name: "nas", MAC: "AA:BB:CC:00:00:01", Addr: "192.168.1.20"},
		},
		state: appliance.State{Kind: appliance.StateAuthorized},
	}
	prober := &stubProber{}
	c, st := newTestCoordinator(t, prober, app)

	var online []string
	c.Events().On(EventDeviceOnline, func(e Event) {
		online = append(online, e.Data.(store.Device).MAC)
	})

	if err := c.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if prober.calls != 0 {
		t.Error("prober ran despite a reachable appliance")
	}
	if len(online) != 2 {
		t.Errorf("online events = %v, want both hosts", online)
	}

	devices, err := c.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	// Store view is sorted by numeric IP.
	if devices[0].IP != "192.168.1.20" || devices[1].IP != "192.168.1.30" {
		t.Errorf("devices out of order: %s, %s", devices[0].IP, devices[1].IP)
	}

	// Persisted, not transient.
	list, err := st.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("stored devices = %d, want 2", len(list))
	}
}

func TestScanFallsBackToProbe(t *testing.T) {
	app := &stubAppliance{err: appliance.ErrNoAppliance}
	prober := &stubProber{devices: []probe.Device{
		{IP: "192.168.1.5", Hostname: "desktop"},
		{IP: "192.168.1.9", Hostname: probe.HostnameUnresolved},
	}}
	c, st := newTestCoordinator(t, prober, app)

	if err := c.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if prober.calls != 1 {
		t.Fatalf("prober calls = %d, want 1", prober.calls)
	}

	devices, err := c.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	for _, d := range devices {
		if d.Source != store.SourceProbe || d.MAC != "" {
			t.Errorf("probe fallback produced %+v", d)
		}
	}

	// Probe results never reach the store.
	list, err := st.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("stored devices = %d, want 0", len(list))
	}
}

func TestApplianceScanReplacesProbeView(t *testing.T) {
	app := &stubAppliance{err: appliance.ErrNoAppliance}
	prober := &stubProber{devices: []probe.Device{{IP: "192.168.1.5"}}}
	c, _ := newTestCoordinator(t, prober, app)

	if err := c.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Appliance comes back; its persisted listing wins over the probe view.
	app.err = nil
	app.hosts = []appliance.Host{{Name: "nas", MAC: "AA:BB:CC:00:00:01", Addr: "192.168.1.20"}}
	if err := c.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	devices, err := c.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].MAC != "AA:BB:CC:00:00:01" {
		t.Errorf("devices = %+v, want the appliance listing", devices)
	}
}

func TestScanWithoutAppliance(t *testing.T) {
	prober := &stubProber{devices: []probe.Device{{IP: "192.168.1.5"}}}
	c, _ := newTestCoordinator(t, prober, nil)

	if err := c.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if prober.calls != 1 {
		t.Fatalf("prober calls = %d, want 1", prober.calls)
	}
	if got := c.AuthState().Kind; got != appliance.StateIdle {
		t.Errorf("auth state = %v, want idle when no appliance is configured", got)
	}
}

func TestScanRejectedWhileRunning(t *testing.T) {
	prober := &stubProber{}
	c, _ := newTestCoordinator(t, prober, nil)

	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	if err := c.Scan(context.Background()); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("err = %v, want ErrScanInProgress", err)
	}
}

func TestScanEmitsLifecycleEvents(t *testing.T) {
	prober := &stubProber{devices: []probe.Device{{IP: "192.168.1.5"}}}
	c, _ := newTestCoordinator(t, prober, nil)

	var types []string
	c.Events().OnAll(func(e Event) { types = append(types, e.Type) })

	if err := c.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(types) != 2 || types[0] != EventScanStarted || types[1] != EventScanCompleted {
		t.Errorf("events = %v, want scan_started then scan_completed", types)
	}
}

func TestForgetClearsEverything(t *testing.T) {
	app := &stubAppliance{
		hosts: []appliance.Host{{Name: "nas", MAC: "AA:BB:CC:00:00:01", Addr: "192.168.1.20"}},
		state: appliance.State{Kind: appliance.StateAuthorized},
	}
	c, st := newTestCoordinator(t, &stubProber{}, app)

	if err := c.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Forget(); err != nil {
		t.Fatal(err)
	}
	if !app.forgot {
		t.Error("appliance pairing not forgotten")
	}
	list, err := st.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("stored devices = %d after forget, want 0", len(list))
	}
	if got := c.AuthState().Kind; got != appliance.StateIdle {
		t.Errorf("auth state = %v, want idle", got)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus(discardLogger())
	var got int
	off := eb.On(EventScanStarted, func(Event) { got++ })
	eb.Emit(Event{Type: EventScanStarted})
	off()
	eb.Emit(Event{Type: EventScanStarted})
	if got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestEventBusRecoversPanickingHandler(t *testing.T) {
	eb := NewEventBus(discardLogger())
	eb.On(EventScanStarted, func(Event) { panic("boom") })
	var reached bool
	eb.On(EventScanStarted, func(Event) { reached = true })
	eb.Emit(Event{Type: EventScanStarted})
	if !reached {
		t.Error("panic in one handler stopped delivery to the next")
	}
}
