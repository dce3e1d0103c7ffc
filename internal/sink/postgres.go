package sink

import (
	"context"
	"encoding/json"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/database"
	"example.com/backstage/services/telemetry/internal/ingest"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PostgresSink appends events to the ingested_events table
type PostgresSink struct {
	db    database.DB
	newID func() string
}

// NewPostgresSink creates a sink storing events through db
func NewPostgresSink(db database.DB) *PostgresSink {
	return &PostgresSink{
		db:    db,
		newID: func() string { return uuid.New().String() },
	}
}

// Backend names the sink
func (s *PostgresSink) Backend() string {
	return config.SinkPostgres
}

// Write inserts ev as a new row keyed by a fresh UUID
func (s *PostgresSink) Write(ctx context.Context, stream string, ev ingest.EnrichedEvent) (ingest.WriteResult, error) {
	data, err := json.Marshal(ev.Document())
	if err != nil {
		return ingest.WriteResult{}, errors.Wrap(err, "failed to marshal event document")
	}

	gormDB, err := s.db.DB()
	if err != nil {
		return ingest.WriteResult{}, err
	}

	row := &models.StoredEvent{
		ID:         s.newID(),
		Stream:     stream,
		DeviceID:   ev.DeviceID,
		Classifier: ev.Classifier,
		Timestamp:  ev.Timestamp,
		Document:   string(data),
	}
	if err := gormDB.WithContext(ctx).Create(row).Error; err != nil {
		return ingest.WriteResult{}, errors.Wrapf(err, "failed to store event in %s", stream)
	}

	return ingest.WriteResult{Stream: stream, ID: row.ID}, nil
}

// Close is a no-op; the connection pool is owned by the caller
func (s *PostgresSink) Close(context.Context) error {
	return nil
}
