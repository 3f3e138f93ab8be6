package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a device id is not in the registry.
var ErrNotFound = errors.New("device not found")

// Device is one row of the durable device directory.
type Device struct {
	DeviceID     string    `json:"device_id"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Upsert records a registration. A new device gets registered_at = now;
// a returning device keeps its original registered_at and refreshes name
// and last_seen. Last writer wins.
func (s *Store) Upsert(ctx context.Context, deviceID, name string, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, name, registered_at, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen
	`, deviceID, name, ts, ts)
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", deviceID, err)
	}
	return nil
}

// Get returns one device by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, deviceID string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, name, registered_at, last_seen
		FROM devices WHERE device_id = ?
	`, deviceID)

	dev, err := scanDevice(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", deviceID, err)
	}
	return dev, nil
}

// List returns every registered device, most recently seen first.
func (s *Store) List(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, name, registered_at, last_seen
		FROM devices ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		dev, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

func scanDevice(scan func(...any) error) (*Device, error) {
	var dev Device
	var registeredAt, lastSeen string
	if err := scan(&dev.DeviceID, &dev.Name, &registeredAt, &lastSeen); err != nil {
		return nil, err
	}
	dev.RegisteredAt, _ = time.Parse(time.RFC3339, registeredAt)
	dev.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
	return &dev, nil
}
