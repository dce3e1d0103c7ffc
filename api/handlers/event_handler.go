package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"example.com/backstage/services/telemetry/internal/ingest"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Ingester runs one submission through the ingestion pipeline
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// EventHandler handles telemetry submissions
type EventHandler struct {
	ingester       Ingester
	identityHeader string
	log            *logrus.Logger
}

// NewEventHandler creates a new EventHandler reading the device identity
// from identityHeader
func NewEventHandler(ingester Ingester, identityHeader string, log *logrus.Logger) *EventHandler {
	if identityHeader == "" {
		identityHeader = "X-Device-ID"
	}
	return &EventHandler{
		ingester:       ingester,
		identityHeader: identityHeader,
		log:            log,
	}
}

// IngestEvent handles POST /api/events
func (h *EventHandler) IngestEvent(c *gin.Context) {
	res, err := h.ingester.Ingest(c.Request.Context(), ingest.Request{
		DeviceID: c.GetHeader(h.identityHeader),
		Body:     c.Request.Body,
	})
	if err != nil {
		writeIngestError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":    "created",
		"stream":    res.Stream,
		"id":        res.ID,
		"timestamp": res.Timestamp.Format(time.RFC3339Nano),
	})
}

// StatusFor maps a failure kind to its HTTP status
func StatusFor(kind ingest.Kind) int {
	switch kind {
	case ingest.KindIdentityMissing, ingest.KindDeviceUnknown, ingest.KindPayloadMalformed,
		ingest.KindValidationFailed, ingest.KindUnroutable:
		return http.StatusBadRequest
	case ingest.KindDirectoryUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var kindMessages = map[ingest.Kind]string{
	ingest.KindIdentityMissing:      "Device identity header is required",
	ingest.KindDeviceUnknown:        "Device is not registered",
	ingest.KindDirectoryUnavailable: "Device directory is unavailable, retry later",
	ingest.KindPayloadMalformed:     "Request body must be a single JSON object",
	ingest.KindValidationFailed:     "Event failed validation",
	ingest.KindUnroutable:           "Event classifier cannot be routed",
	ingest.KindWriteFailed:          "Failed to store event",
}

func writeIngestError(c *gin.Context, err error) {
	var ingestErr *ingest.Error
	if !errors.As(err, &ingestErr) {
		c.JSON(http.StatusInternalServerError, errorBody(string(ingest.KindWriteFailed), kindMessages[ingest.KindWriteFailed], nil))
		return
	}

	body := errorBody(string(ingestErr.Kind), kindMessages[ingestErr.Kind], nil)
	if len(ingestErr.Failures) > 0 {
		body["details"] = ingestErr.Failures
	}
	c.JSON(StatusFor(ingestErr.Kind), body)
}

func errorBody(code, message string, details interface{}) gin.H {
	body := gin.H{
		"status":  "error",
		"error":   code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	return body
}
