package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Device operations. Devices are keyed by MAC address.
	SaveDevice(dev *Device) error
	GetDevice(mac string) (*Device, error)
	ListDevices() ([]*Device, error)

	// UpdateDevice atomically reads, modifies, and saves a device in a single
	// transaction. Returns ErrNotFound if the device does not exist.
	UpdateDevice(mac string, fn func(dev *Device) error) error

	// MarkAllOffline flags every persisted device as offline. Records are
	// never removed; a device that stops showing up in scans stays visible
	// as history.
	MarkAllOffline() error

	// DeleteAllDevices clears the device bucket. Only used by forget/reset.
	DeleteAllDevices() error

	// Appliance credential. One app token per installation, persisted across
	// restarts.
	SaveAppToken(token string) error
	AppToken() (string, error)
	DeleteAppToken() error

	// Close the store
	Close() error
}
