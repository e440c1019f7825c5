package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lanscout/internal/appliance"
	"lanscout/internal/probe"
	"lanscout/internal/store"
)

// ErrScanInProgress is returned when Scan is called while another scan is
// still running.
var ErrScanInProgress = errors.New("scan already in progress")

// Prober sweeps the local subnet.
type Prober interface {
	Scan(ctx context.Context) ([]probe.Device, error)
}

// Appliance queries the network appliance for its authoritative host list.
type Appliance interface {
	FetchHosts(ctx context.Context) ([]appliance.Host, error)
	State() appliance.State
	Forget() error
}

// Coordinator drives scans and maintains the current device view. The
// appliance is the preferred source; when none is reachable the coordinator
// falls back to the subnet prober, whose results stay in memory only.
type Coordinator struct {
	prober    Prober
	appliance Appliance // nil when the appliance integration is disabled
	store     store.Store
	recon     *Reconciler
	events    *EventBus
	logger    *slog.Logger
	now       func() time.Time

	scanMu sync.Mutex // one scan at a time

	viewMu    sync.RWMutex
	probeView []store.Device // last probe sweep; nil while appliance-backed
}

// New creates a Coordinator. app may be nil to disable the appliance path.
func New(p Prober, app Appliance, st store.Store, events *EventBus, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		prober:    p,
		appliance: app,
		store:     st,
		recon:     NewReconciler(st),
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Scan runs a single discovery pass. The appliance path persists its result
// through the reconciler; the probe fallback replaces the transient view.
func (c *Coordinator) Scan(ctx context.Context) error {
	if !c.scanMu.TryLock() {
		return ErrScanInProgress
	}
	defer c.scanMu.Unlock()

	c.events.Emit(Event{Type: EventScanStarted})

	if c.appliance != nil {
		hosts, err := c.appliance.FetchHosts(ctx)
		c.emitAuthState()
		if err == nil {
			return c.applyApplianceScan(hosts)
		}
		if errors.Is(err, appliance.ErrNoAppliance) {
			c.logger.Info("no appliance found, probing subnet")
		} else {
			c.logger.Warn("appliance scan failed, probing subnet", "err", err)
		}
	}

	found, err := c.prober.Scan(ctx)
	if err != nil {
		return err
	}
	view := ProbeView(found, c.now())

	c.viewMu.Lock()
	c.probeView = view
	c.viewMu.Unlock()

	c.events.Emit(Event{Type: EventScanCompleted, Data: map[string]interface{}{
		"source":  store.SourceProbe,
		"devices": len(view),
	}})
	c.logger.Info("probe scan completed", "devices", len(view))
	return nil
}

func (c *Coordinator) applyApplianceScan(hosts []appliance.Host) error {
	transitions, err := c.recon.ApplyAppliance(hosts, c.now())
	if err != nil {
		return err
	}

	// The persisted view is authoritative again.
	c.viewMu.Lock()
	c.probeView = nil
	c.viewMu.Unlock()

	for _, t := range transitions {
		typ := EventDeviceOnline
		if !t.Online {
			typ = EventDeviceOffline
		}
		c.events.Emit(Event{Type: typ, Data: t.Device})
	}
	c.events.Emit(Event{Type: EventScanCompleted, Data: map[string]interface{}{
		"source":  store.SourceAppliance,
		"devices": len(hosts),
	}})
	c.logger.Info("appliance scan completed", "hosts", len(hosts), "transitions", len(transitions))
	return nil
}

// Devices returns the current display view: the last probe sweep when that
// was the most recent source, otherwise the persisted device list. Sorted
// ascending by numeric IP; non-IPv4 addresses are filtered out.
func (c *Coordinator) Devices() ([]store.Device, error) {
	c.viewMu.RLock()
	pv := c.probeView
	c.viewMu.RUnlock()
	if pv != nil {
		return FilterDisplay(pv), nil
	}

	list, err := c.store.ListDevices()
	if err != nil {
		return nil, err
	}
	out := make([]store.Device, 0, len(list))
	for _, d := range list {
		out = append(out, *d)
	}
	return FilterDisplay(out), nil
}

// AuthState reports the appliance authorization state.
func (c *Coordinator) AuthState() appliance.State {
	if c.appliance == nil {
		return appliance.State{Kind: appliance.StateIdle}
	}
	return c.appliance.State()
}

// Forget wipes all persisted devices and the appliance pairing, returning
// the authorization state machine to idle.
func (c *Coordinator) Forget() error {
	if err := c.store.DeleteAllDevices(); err != nil {
		return err
	}
	c.viewMu.Lock()
	c.probeView = nil
	c.viewMu.Unlock()

	if c.appliance != nil {
		if err := c.appliance.Forget(); err != nil {
			return err
		}
	}
	c.emitAuthState()
	c.logger.Info("device history and appliance pairing cleared")
	return nil
}

func (c *Coordinator) emitAuthState() {
	c.events.Emit(Event{Type: EventAuthState, Data: c.AuthState()})
}
