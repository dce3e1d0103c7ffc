package models

import (
	"time"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeviceStatus is the operational status reported for a device
type DeviceStatus string

const (
	// DeviceStatusOnline marks a device that is reporting
	DeviceStatusOnline DeviceStatus = "online"
	// DeviceStatusOffline marks a device that is not reporting
	DeviceStatusOffline DeviceStatus = "offline"
	// DeviceStatusUnknown marks a device whose state has not been determined
	DeviceStatusUnknown DeviceStatus = "unknown"
)

// Valid reports whether s is one of the known statuses
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusOnline, DeviceStatusOffline, DeviceStatusUnknown:
		return true
	}
	return false
}

// Device represents a registered telemetry source. DeviceID and APIKey are
// unique; DeviceID never changes after creation and the APIKey is issued once.
type Device struct {
	Model
	DeviceID     string       `json:"device_id" gorm:"Column:device_id;uniqueIndex;size:50;not null"`
	Name         string       `json:"name" gorm:"Column:name;size:100"`
	Status       DeviceStatus `json:"status" gorm:"Column:status;size:20;default:offline"`
	Capacity     *float64     `json:"capacity,omitempty" gorm:"Column:capacity"`
	Location     string       `json:"location,omitempty" gorm:"Column:location"`
	Manufacturer string       `json:"manufacturer,omitempty" gorm:"Column:manufacturer"`
	DeviceModel  string       `json:"model,omitempty" gorm:"Column:model"`
	Tilt         *float64     `json:"tilt,omitempty" gorm:"Column:tilt"`
	Azimuth      *float64     `json:"azimuth,omitempty" gorm:"Column:azimuth"`
	APIKey       string       `json:"-" gorm:"Column:api_key;uniqueIndex;size:100;not null"`
}

// StoredEvent is one ingested event persisted by the postgres sink. Rows are
// only ever inserted.
type StoredEvent struct {
	ID         string    `json:"id" gorm:"Column:id;primaryKey;size:36"`
	Stream     string    `json:"stream" gorm:"Column:stream;index;size:80;not null"`
	DeviceID   string    `json:"device_id" gorm:"Column:device_id;index;size:50;not null"`
	Classifier string    `json:"classifier" gorm:"Column:classifier;size:64"`
	Timestamp  time.Time `json:"timestamp" gorm:"Column:timestamp;index"`
	Document   string    `json:"document" gorm:"Column:document;type:jsonb"`
}

// TableName pins the table used by the postgres sink
func (StoredEvent) TableName() string {
	return "ingested_events"
}
