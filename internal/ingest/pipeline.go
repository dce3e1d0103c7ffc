package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"example.com/backstage/services/telemetry/internal/models"

	"github.com/sirupsen/logrus"
)

// Outcome labels reported to the Observer besides the failure Kinds
const (
	OutcomeCreated = "created"
	// OutcomeWriteTimeout marks a write_failed caused by the write deadline
	OutcomeWriteTimeout = "write_timeout"
)

// DeviceDirectory resolves a device identity to its registration. It returns
// ErrDeviceNotFound for unregistered identities.
type DeviceDirectory interface {
	Lookup(ctx context.Context, deviceID string) (*models.Device, error)
}

// EventSink durably records an event under a stream
type EventSink interface {
	Write(ctx context.Context, stream string, ev EnrichedEvent) (WriteResult, error)
}

// WriteResult is the sink acknowledgement of a stored event
type WriteResult struct {
	Stream string
	ID     string
}

// Observer receives the outcome and duration of every ingestion
type Observer interface {
	ObserveIngest(outcome string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveIngest(string, time.Duration) {}

// Request is one inbound submission
type Request struct {
	DeviceID string
	Body     io.Reader
}

// Result describes a stored event
type Result struct {
	Stream    string
	ID        string
	Timestamp time.Time
	Event     EnrichedEvent
}

// Options configure a Pipeline
type Options struct {
	Schema        Schema
	Router        *Router
	Enricher      *Enricher
	Logger        *logrus.Logger
	Observer      Observer
	LookupTimeout time.Duration
	WriteTimeout  time.Duration
	MaxBodyBytes  int64
}

// Pipeline drives a submission through device resolution, validation,
// enrichment, routing and the sink write. It holds no per request state and
// is safe for concurrent use.
type Pipeline struct {
	directory     DeviceDirectory
	sink          EventSink
	schema        Schema
	router        *Router
	enricher      *Enricher
	log           *logrus.Logger
	observer      Observer
	lookupTimeout time.Duration
	writeTimeout  time.Duration
	maxBodyBytes  int64
}

// NewPipeline creates a pipeline writing to sink and resolving devices
// through directory.
func NewPipeline(directory DeviceDirectory, sink EventSink, opts Options) (*Pipeline, error) {
	if directory == nil {
		return nil, errors.New("device directory is required")
	}
	if sink == nil {
		return nil, errors.New("event sink is required")
	}
	if opts.Schema.Classifier == "" {
		return nil, errors.New("schema with a classifier field is required")
	}
	if opts.Router == nil {
		r, err := NewRouter("", nil)
		if err != nil {
			return nil, err
		}
		opts.Router = r
	}
	if opts.Enricher == nil {
		opts.Enricher = NewEnricher(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 2 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	return &Pipeline{
		directory:     directory,
		sink:          sink,
		schema:        opts.Schema,
		router:        opts.Router,
		enricher:      opts.Enricher,
		log:           opts.Logger,
		observer:      opts.Observer,
		lookupTimeout: opts.LookupTimeout,
		writeTimeout:  opts.WriteTimeout,
		maxBodyBytes:  opts.MaxBodyBytes,
	}, nil
}

// Ingest processes one submission. Every failure is returned as an *Error
// naming its Kind and the Stage it happened in; nothing is written to the
// sink unless every earlier stage succeeded.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := p.ingest(ctx, req)

	outcome := OutcomeCreated
	var ingestErr *Error
	if errors.As(err, &ingestErr) {
		outcome = string(ingestErr.Kind)
		if ingestErr.Kind == KindWriteFailed && errors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeWriteTimeout
		}
	}
	p.observer.ObserveIngest(outcome, time.Since(start))

	logger := p.log.WithFields(logrus.Fields{
		"device_id": strings.TrimSpace(req.DeviceID),
		"outcome":   outcome,
		"duration":  time.Since(start).String(),
	})
	switch {
	case err == nil:
		logger.WithFields(logrus.Fields{"stream": res.Stream, "event_id": res.ID}).Info("Event ingested")
	case ingestErr != nil && ingestErr.Kind.ClientError():
		logger.WithField("stage", ingestErr.Stage).Warn("Event rejected")
	default:
		logger.WithError(err).Error("Event ingestion failed")
	}

	return res, err
}

func (p *Pipeline) ingest(ctx context.Context, req Request) (*Result, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return nil, &Error{Kind: KindIdentityMissing, Stage: StageReceivingIdentity, Err: ErrMissingIdentity}
	}

	device, err := p.resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	payload, err := p.decode(req.Body)
	if err != nil {
		return nil, &Error{Kind: KindPayloadMalformed, Stage: StageValidating, Err: err}
	}

	validated, err := Validate(payload, p.schema)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, &Error{Kind: KindValidationFailed, Stage: StageValidating, Failures: verr.Failures, Err: err}
		}
		return nil, &Error{Kind: KindValidationFailed, Stage: StageValidating, Err: err}
	}

	enriched := p.enricher.Enrich(*validated, *device)

	stream, err := p.router.Route(enriched)
	if err != nil {
		return nil, &Error{Kind: KindUnroutable, Stage: StageRouting, Err: err}
	}

	wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	written, err := p.sink.Write(wctx, stream, enriched)
	if err != nil {
		return nil, &Error{Kind: KindWriteFailed, Stage: StageWriting, Err: err}
	}

	return &Result{
		Stream:    stream,
		ID:        written.ID,
		Timestamp: enriched.Timestamp,
		Event:     enriched,
	}, nil
}

func (p *Pipeline) resolve(ctx context.Context, deviceID string) (*models.Device, error) {
	lctx, cancel := context.WithTimeout(ctx, p.lookupTimeout)
	defer cancel()

	device, err := p.directory.Lookup(lctx, deviceID)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return nil, &Error{Kind: KindDeviceUnknown, Stage: StageResolvingDevice, Err: err}
	case err != nil:
		return nil, &Error{Kind: KindDirectoryUnavailable, Stage: StageResolvingDevice, Err: err}
	case device == nil:
		return nil, &Error{Kind: KindDeviceUnknown, Stage: StageResolvingDevice, Err: ErrDeviceNotFound}
	}
	return device, nil
}

// decode reads at most maxBodyBytes and requires exactly one JSON object
func (p *Pipeline) decode(body io.Reader) (map[string]any, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	data, err := io.ReadAll(io.LimitReader(body, p.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if int64(len(data)) > p.maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedPayload, p.maxBodyBytes)
	}

	return DecodePayload(data)
}

// DecodePayload parses data as a single JSON object. Numbers are kept as
// json.Number so the validator sees their exact text.
func DecodePayload(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedPayload)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after JSON object", ErrMalformedPayload)
	}
	return obj, nil
}
