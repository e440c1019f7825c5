package appliance

import "encoding/json"

// TrackStatus is the typed authorization-track status. The appliance's
// string literals are mapped here, at the parse boundary, and nowhere else.
type TrackStatus int

const (
	TrackUnknown TrackStatus = iota
	TrackPending
	TrackGranted
	TrackDenied
	TrackTimeout
)

func parseTrackStatus(s string) TrackStatus {
	switch s {
	case "pending":
		return TrackPending
	case "granted":
		return TrackGranted
	case "denied":
		return TrackDenied
	case "timeout":
		return TrackTimeout
	default:
		return TrackUnknown
	}
}

func (t TrackStatus) String() string {
	switch t {
	case TrackPending:
		return "pending"
	case TrackGranted:
		return "granted"
	case TrackDenied:
		return "denied"
	case TrackTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// AppIdentity is the application identity presented to the appliance when
// requesting authorization.
type AppIdentity struct {
	AppID      string `json:"app_id"`
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	DeviceName string `json:"device_name"`
}

// Host is one appliance-reported LAN device. Addr is the first layer-3
// connectivity record flagged active; MAC comes from the layer-2 identity.
type Host struct {
	Name string
	MAC  string
	Addr string
}

// envelope is the appliance's response wrapper.
type envelope struct {
	Success   bool            `json:"success"`
	Msg       string          `json:"msg,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

type authorizeResult struct {
	AppToken string `json:"app_token"`
	TrackID  int    `json:"track_id"`
}

type trackResult struct {
	Status    string `json:"status"`
	Challenge string `json:"challenge,omitempty"`
}

type challengeResult struct {
	Challenge string `json:"challenge"`
}

type sessionRequest struct {
	AppID    string `json:"app_id"`
	Password string `json:"password"`
}

type sessionResult struct {
	SessionToken string `json:"session_token"`
}

type lanHost struct {
	PrimaryName      string           `json:"primary_name"`
	L2Ident          l2Ident          `json:"l2ident"`
	L3Connectivities []l3Connectivity `json:"l3connectivities"`
}

type l2Ident struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type l3Connectivity struct {
	Addr   string `json:"addr"`
	Af     string `json:"af,omitempty"`
	Active bool   `json:"active"`
}
