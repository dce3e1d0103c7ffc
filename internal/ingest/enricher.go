package ingest

import (
	"time"

	"example.com/backstage/services/telemetry/internal/models"
)

// Server assigned document fields. Client values under these names never
// reach a sink.
const (
	FieldTimestamp      = "timestamp"
	FieldDeviceID       = "device_id"
	FieldDeviceName     = "device_name"
	FieldDeviceLocation = "device_location"
)

var reservedFields = []string{FieldTimestamp, FieldDeviceID, FieldDeviceName, FieldDeviceLocation}

// EnrichedEvent is a validated event stamped with server side facts
type EnrichedEvent struct {
	ValidatedEvent
	DeviceID       string
	DeviceName     string
	DeviceLocation string
	Timestamp      time.Time
}

// Document returns the record handed to a sink. Undeclared fields are laid
// down first, declared fields over them and server fields last.
func (e EnrichedEvent) Document() map[string]any {
	doc := make(map[string]any, len(e.Extra)+len(e.Fields)+4)
	for k, v := range e.Extra {
		doc[k] = v
	}
	for k, v := range e.Fields {
		doc[k] = v.Interface()
	}
	doc[FieldDeviceID] = e.DeviceID
	doc[FieldDeviceName] = e.DeviceName
	if e.DeviceLocation != "" {
		doc[FieldDeviceLocation] = e.DeviceLocation
	}
	doc[FieldTimestamp] = e.Timestamp
	return doc
}

// Enricher stamps events with the resolving device and the receipt time
type Enricher struct {
	now func() time.Time
}

// NewEnricher creates an enricher reading time from now, or from the system
// clock when now is nil.
func NewEnricher(now func() time.Time) *Enricher {
	if now == nil {
		now = time.Now
	}
	return &Enricher{now: now}
}

// Enrich returns a new event carrying the device identity, name and location
// and a UTC receipt timestamp. Any client supplied value for those fields is
// dropped. ev is not modified.
func (en *Enricher) Enrich(ev ValidatedEvent, device models.Device) EnrichedEvent {
	out := EnrichedEvent{
		ValidatedEvent: ValidatedEvent{
			Classifier: ev.Classifier,
			Fields:     make(map[string]Value, len(ev.Fields)),
			Extra:      make(map[string]any, len(ev.Extra)),
		},
		DeviceID:       device.DeviceID,
		DeviceName:     device.Name,
		DeviceLocation: device.Location,
		Timestamp:      en.now().UTC(),
	}
	for k, v := range ev.Fields {
		if v.Object != nil {
			v.Object = copyJSON(v.Object).(map[string]any)
		}
		out.Fields[k] = v
	}
	for k, v := range ev.Extra {
		out.Extra[k] = copyJSON(v)
	}
	for _, k := range reservedFields {
		delete(out.Fields, k)
		delete(out.Extra, k)
	}
	return out
}
