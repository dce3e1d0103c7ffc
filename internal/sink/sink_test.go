package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/database"
	"example.com/backstage/services/telemetry/internal/ingest"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var observedAt = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func sampleEvent() ingest.EnrichedEvent {
	return ingest.EnrichedEvent{
		ValidatedEvent: ingest.ValidatedEvent{
			Classifier: "temperature",
			Fields: map[string]ingest.Value{
				"metric": {Type: ingest.TypeString, String: "temperature"},
				"value":  {Type: ingest.TypeNumber, Number: 21.5},
			},
			Extra: map[string]any{"unit": "C"},
		},
		DeviceID:   "device-1",
		DeviceName: "Roof Sensor",
		Timestamp:  observedAt,
	}
}

func TestElasticsearchSinkIndexesIntoStream(t *testing.T) {
	var gotPath string
	var gotDoc map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotDoc)

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_index":"temperature-events","_id":"AbC123","result":"created"}`))
	}))
	defer srv.Close()

	s, err := NewElasticsearchSink(config.ElasticsearchConfig{URLs: []string{srv.URL}}, nil)
	require.NoError(t, err)

	res, err := s.Write(context.Background(), "temperature-events", sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, "AbC123", res.ID)
	assert.Equal(t, "temperature-events", res.Stream)
	assert.Equal(t, "/temperature-events/_doc", gotPath)
	assert.Equal(t, "device-1", gotDoc["device_id"])
	assert.Equal(t, "Roof Sensor", gotDoc["device_name"])
	assert.Equal(t, 21.5, gotDoc["value"])
	assert.Equal(t, "C", gotDoc["unit"])
	assert.Equal(t, "2024-06-01T09:30:00Z", gotDoc["timestamp"])
}

func TestElasticsearchSinkReportsRejectedWrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"mapper_parsing_exception"},"status":400}`))
	}))
	defer srv.Close()

	s, err := NewElasticsearchSink(config.ElasticsearchConfig{URLs: []string{srv.URL}}, nil)
	require.NoError(t, err)

	_, err = s.Write(context.Background(), "temperature-events", sampleEvent())
	assert.Error(t, err)
}

func TestPostgresSinkInsertsEvent(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	s := NewPostgresSink(database.Wrap(gormDB))
	s.newID = func() string { return "6f1c2a5e-0000-4000-8000-000000000001" }

	mock.ExpectExec(`INSERT INTO "ingested_events"`).
		WithArgs("6f1c2a5e-0000-4000-8000-000000000001", "temperature-events", "device-1", "temperature", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := s.Write(context.Background(), "temperature-events", sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, "6f1c2a5e-0000-4000-8000-000000000001", res.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkWrapsInsertFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "ingested_events"`).WillReturnError(errors.New("disk full"))

	_, err = NewPostgresSink(database.Wrap(gormDB)).Write(context.Background(), "temperature-events", sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

type fakeSender struct {
	mu       sync.Mutex
	messages []*azservicebus.Message
	closed   bool
	err      error
}

func (f *fakeSender) SendMessage(_ context.Context, msg *azservicebus.Message, _ *azservicebus.SendMessageOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSender) Close(context.Context) error {
	f.closed = true
	return nil
}

func TestServiceBusSinkSendsToStreamQueue(t *testing.T) {
	senders := map[string]*fakeSender{}
	s := newServiceBusSink("telemetry", nil, func(queue string) (messageSender, error) {
		fs := &fakeSender{}
		senders[queue] = fs
		return fs, nil
	})

	first, err := s.Write(context.Background(), "temperature-events", sampleEvent())
	require.NoError(t, err)
	second, err := s.Write(context.Background(), "temperature-events", sampleEvent())
	require.NoError(t, err)

	require.Len(t, senders, 1)
	sender := senders["telemetry-temperature-events"]
	require.NotNil(t, sender)
	require.Len(t, sender.messages, 2)
	assert.NotEqual(t, first.ID, second.ID)

	msg := sender.messages[0]
	assert.Equal(t, first.ID, *msg.MessageID)
	assert.Equal(t, "application/json", *msg.ContentType)
	assert.Equal(t, "device-1", msg.ApplicationProperties["device_id"])

	var doc map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &doc))
	assert.Equal(t, "Roof Sensor", doc["device_name"])

	require.NoError(t, s.Close(context.Background()))
	assert.True(t, sender.closed)
}

func TestServiceBusSinkSendFailure(t *testing.T) {
	s := newServiceBusSink("", nil, func(string) (messageSender, error) {
		return &fakeSender{err: errors.New("link detached")}, nil
	})

	_, err := s.Write(context.Background(), "temperature-events", sampleEvent())
	assert.Error(t, err)
}

type writeRecorder struct {
	backends []string
	errs     []error
}

func (w *writeRecorder) ObserveWrite(backend string, err error) {
	w.backends = append(w.backends, backend)
	w.errs = append(w.errs, err)
}

func TestWithObserverRecordsWrites(t *testing.T) {
	s := newServiceBusSink("", nil, func(string) (messageSender, error) {
		return &fakeSender{}, nil
	})
	rec := &writeRecorder{}

	_, err := WithObserver(s, rec).Write(context.Background(), "power-events", sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, []string{config.SinkServiceBus}, rec.backends)
	assert.Equal(t, []error{nil}, rec.errs)
}

func TestOpenRejectsMissingDependencies(t *testing.T) {
	_, err := Open(&config.Config{Sink: config.SinkConfig{Backend: config.SinkPostgres}}, nil, nil)
	assert.Error(t, err)

	_, err = Open(&config.Config{Sink: config.SinkConfig{Backend: config.SinkServiceBus}}, nil, nil)
	assert.Error(t, err)

	_, err = Open(&config.Config{Sink: config.SinkConfig{Backend: "kafka"}}, nil, nil)
	assert.Error(t, err)
}
