package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"example.com/backstage/services/telemetry/internal/ingest"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type stubDirectory struct {
	devices map[string]models.Device
	err     error
}

func (d *stubDirectory) Lookup(_ context.Context, deviceID string) (*models.Device, error) {
	if d.err != nil {
		return nil, d.err
	}
	dev, ok := d.devices[deviceID]
	if !ok {
		return nil, ingest.ErrDeviceNotFound
	}
	return &dev, nil
}

type memorySink struct {
	mu     sync.Mutex
	docs   map[string][]map[string]any
	err    error
	nextID int
}

func (s *memorySink) Write(_ context.Context, stream string, ev ingest.EnrichedEvent) (ingest.WriteResult, error) {
	if s.err != nil {
		return ingest.WriteResult{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = map[string][]map[string]any{}
	}
	s.docs[stream] = append(s.docs[stream], ev.Document())
	s.nextID++
	return ingest.WriteResult{Stream: stream, ID: fmt.Sprintf("evt-%d", s.nextID)}, nil
}

var handlerClock = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newEventRouter(t *testing.T, dir ingest.DeviceDirectory, sink ingest.EventSink) *gin.Engine {
	t.Helper()

	schema, err := ingest.DefaultSchema("metric")
	require.NoError(t, err)

	p, err := ingest.NewPipeline(dir, sink, ingest.Options{
		Schema:       schema,
		Enricher:     ingest.NewEnricher(func() time.Time { return handlerClock }),
		Logger:       quietLogger(),
		MaxBodyBytes: 256,
	})
	require.NoError(t, err)

	r := gin.New()
	r.POST("/api/events", NewEventHandler(p, "X-Device-ID", quietLogger()).IngestEvent)
	return r
}

func postEvent(r http.Handler, deviceID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if deviceID != "" {
		req.Header.Set("X-Device-ID", deviceID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func registeredDirectory() *stubDirectory {
	return &stubDirectory{devices: map[string]models.Device{
		"device-1": {DeviceID: "device-1", Name: "Roof Sensor"},
	}}
}

func TestIngestEventCreated(t *testing.T) {
	sink := &memorySink{}
	r := newEventRouter(t, registeredDirectory(), sink)

	w := postEvent(r, "device-1", `{"metric":"temperature","value":21.5}`)
	require.Equal(t, http.StatusCreated, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "created", body["status"])
	assert.Equal(t, "temperature-events", body["stream"])
	assert.Equal(t, "evt-1", body["id"])
	assert.Equal(t, "2024-06-01T09:30:00Z", body["timestamp"])

	require.Len(t, sink.docs["temperature-events"], 1)
	doc := sink.docs["temperature-events"][0]
	assert.Equal(t, "device-1", doc["device_id"])
	assert.Equal(t, "Roof Sensor", doc["device_name"])
	assert.Equal(t, handlerClock, doc["timestamp"])
}

func TestIngestEventErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		dir      *stubDirectory
		sink     *memorySink
		deviceID string
		body     string
		status   int
		code     string
	}{
		{name: "missing identity", deviceID: "", body: `{"metric":"t","value":1}`, status: http.StatusBadRequest, code: "missing_identity"},
		{name: "unknown device", deviceID: "ghost", body: `{"metric":"t","value":1}`, status: http.StatusBadRequest, code: "unknown_device"},
		{name: "directory down", dir: &stubDirectory{err: io.ErrUnexpectedEOF}, deviceID: "device-1", body: `{"metric":"t","value":1}`, status: http.StatusServiceUnavailable, code: "directory_unavailable"},
		{name: "malformed", deviceID: "device-1", body: `{"metric":`, status: http.StatusBadRequest, code: "malformed_payload"},
		{name: "oversized", deviceID: "device-1", body: `{"metric":"t","value":1,"pad":"` + strings.Repeat("x", 300) + `"}`, status: http.StatusBadRequest, code: "malformed_payload"},
		{name: "invalid", deviceID: "device-1", body: `{"metric":"t","value":"hot"}`, status: http.StatusBadRequest, code: "invalid_payload"},
		{name: "unroutable", deviceID: "device-1", body: `{"metric":"??","value":1}`, status: http.StatusBadRequest, code: "unroutable_event"},
		{name: "write failed", sink: &memorySink{err: io.ErrClosedPipe}, deviceID: "device-1", body: `{"metric":"t","value":1}`, status: http.StatusInternalServerError, code: "write_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.dir
			if dir == nil {
				dir = registeredDirectory()
			}
			sink := tt.sink
			if sink == nil {
				sink = &memorySink{}
			}

			w := postEvent(newEventRouter(t, dir, sink), tt.deviceID, tt.body)
			assert.Equal(t, tt.status, w.Code)

			body := decodeBody(t, w)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tt.code, body["error"])
			assert.NotEmpty(t, body["message"])
			assert.Empty(t, sink.docs)
		})
	}
}

func TestIngestEventValidationDetails(t *testing.T) {
	w := postEvent(newEventRouter(t, registeredDirectory(), &memorySink{}), "device-1", `{"unit":"C"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, []any{
		map[string]any{"field": "metric", "reason": "missing"},
		map[string]any{"field": "value", "reason": "missing"},
	}, body["details"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(ingest.KindValidationFailed))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(ingest.KindDirectoryUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(ingest.KindWriteFailed))
}
