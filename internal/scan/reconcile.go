package scan

import (
	"fmt"
	"strings"
	"time"

	"lanscout/internal/appliance"
	"lanscout/internal/probe"
	"lanscout/internal/store"
)

// Transition is a presence change detected while reconciling a scan result
// against the persisted device history.
type Transition struct {
	Device store.Device
	Online bool
}

// Reconciler folds scan results into the store. Appliance results are
// persisted and keyed by hardware address; probe results are transient and
// never touch the store.
type Reconciler struct {
	store store.Store
}

func NewReconciler(st store.Store) *Reconciler {
	return &Reconciler{store: st}
}

// ApplyAppliance persists an appliance host listing: every stored device is
// first marked offline, then each listed host is upserted as online with a
// fresh last-seen stamp. Devices absent from the listing keep their records
// and show up as offline history. Hosts without a hardware address cannot be
// keyed and are skipped.
func (r *Reconciler) ApplyAppliance(hosts []appliance.Host, now time.Time) ([]Transition, error) {
	prior, err := r.store.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	wasOnline := make(map[string]bool, len(prior))
	for _, d := range prior {
		wasOnline[d.MAC] = d.Online
	}

	if err := r.store.MarkAllOffline(); err != nil {
		return nil, fmt.Errorf("mark all offline: %w", err)
	}

	var transitions []Transition
	listed := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		if h.MAC == "" {
			continue
		}
		dev := store.Device{
			MAC:      h.MAC,
			IP:       h.Addr,
			Hostname: h.Name,
			Online:   true,
			LastSeen: now.UnixMilli(),
			Source:   store.SourceAppliance,
		}
		if err := r.store.SaveDevice(&dev); err != nil {
			return transitions, fmt.Errorf("save device %s: %w", h.MAC, err)
		}
		listed[h.MAC] = true
		if !wasOnline[h.MAC] {
			transitions = append(transitions, Transition{Device: dev, Online: true})
		}
	}

	for _, d := range prior {
		if d.Online && !listed[d.MAC] {
			off := *d
			off.Online = false
			transitions = append(transitions, Transition{Device: off, Online: false})
		}
	}
	return transitions, nil
}

// ProbeView maps a probe sweep into the device model without persisting
// anything. Probed hosts carry no hardware address and are always online by
// definition of having answered.
func ProbeView(found []probe.Device, now time.Time) []store.Device {
	out := make([]store.Device, 0, len(found))
	for _, d := range found {
		out = append(out, store.Device{
			IP:       d.IP,
			Hostname: d.Hostname,
			Online:   true,
			LastSeen: now.UnixMilli(),
			Source:   store.SourceProbe,
		})
	}
	return out
}

// FilterDisplay drops records whose address is not dotted-quad shaped. The
// appliance reports IPv6 and link-local entries that the view excludes.
func FilterDisplay(devices []store.Device) []store.Device {
	out := make([]store.Device, 0, len(devices))
	for _, d := range devices {
		if !strings.Contains(d.IP, ".") {
			continue
		}
		out = append(out, d)
	}
	return out
}
