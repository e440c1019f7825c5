package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDevices = []byte("devices")
	bucketAuth    = []byte("auth")
	keyAppToken   = []byte("app_token")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketAuth} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveDevice(dev *Device) error {
	if dev.MAC == "" {
		return fmt.Errorf("device has no MAC address")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data, err := json.Marshal(dev)
		if err != nil {
			return err
		}
		return b.Put([]byte(dev.MAC), data)
	})
}

func (s *BoltStore) GetDevice(mac string) (*Device, error) {
	var dev Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get([]byte(mac))
		if data == nil {
			return fmt.Errorf("device %s: %w", mac, ErrNotFound)
		}
		return json.Unmarshal(data, &dev)
	})
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

func (s *BoltStore) UpdateDevice(mac string, fn func(dev *Device) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get([]byte(mac))
		if data == nil {
			return fmt.Errorf("device %s: %w", mac, ErrNotFound)
		}
		var dev Device
		if err := json.Unmarshal(data, &dev); err != nil {
			return err
		}
		if err := fn(&dev); err != nil {
			return err
		}
		out, err := json.Marshal(&dev)
		if err != nil {
			return err
		}
		return b.Put([]byte(mac), out)
	})
}

// ListDevices returns all persisted devices sorted ascending by numeric IP.
func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return nil // no bucket = no devices
		}
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return err
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(devices, func(i, j int) bool {
		ki, kj := ipSortKey(devices[i].IP), ipSortKey(devices[j].IP)
		if ki != kj {
			return ki < kj
		}
		return devices[i].IP < devices[j].IP
	})
	return devices, nil
}

func (s *BoltStore) MarkAllOffline() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		// Collect first; the bucket must not be modified during ForEach.
		type pending struct {
			key  []byte
			data []byte
		}
		var updates []pending
		err := b.ForEach(func(k, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return err
			}
			if !dev.Online {
				return nil
			}
			dev.Online = false
			data, err := json.Marshal(&dev)
			if err != nil {
				return err
			}
			updates = append(updates, pending{key: append([]byte(nil), k...), data: data})
			return nil
		})
		if err != nil {
			return err
		}
		for _, u := range updates {
			if err := b.Put(u.key, u.data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeleteAllDevices() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketDevices); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketDevices)
		return err
	})
}

func (s *BoltStore) SaveAppToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuth)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAuth)
		}
		return b.Put(keyAppToken, []byte(token))
	})
}

func (s *BoltStore) AppToken() (string, error) {
	var token string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuth)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAuth)
		}
		data := b.Get(keyAppToken)
		if data == nil {
			return fmt.Errorf("app token: %w", ErrNotFound)
		}
		token = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *BoltStore) DeleteAppToken() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuth)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAuth)
		}
		return b.Delete(keyAppToken)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// ipSortKey maps a dotted-quad address to a numeric key so "192.168.1.9"
// sorts before "192.168.1.10". Each octet is a base-1000 digit. Addresses
// that do not parse sort after every valid one.
func ipSortKey(ip string) uint64 {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ^uint64(0)
	}
	var key uint64
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return ^uint64(0)
		}
		key = key*1000 + uint64(n)
	}
	return key
}
