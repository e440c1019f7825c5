package store

// Device sources.
const (
	SourceProbe     = "probe"
	SourceAppliance = "appliance"
)

// Device represents a device observed on the local network.
// MAC is the stable identity for persisted (appliance-sourced) records and
// is empty for transient probe results, which are never persisted.
type Device struct {
	MAC      string `json:"mac,omitempty"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname,omitempty"`
	Online   bool   `json:"is_online"`
	LastSeen int64  `json:"last_seen"` // epoch millis
	Source   string `json:"source,omitempty"`
}
