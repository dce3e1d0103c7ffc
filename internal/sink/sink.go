package sink

import (
	"context"
	"fmt"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/database"
	"example.com/backstage/services/telemetry/internal/ingest"

	"github.com/sirupsen/logrus"
)

// Sink is an event store selected by configuration
type Sink interface {
	ingest.EventSink
	Backend() string
	Close(ctx context.Context) error
}

// WriteObserver receives the result of every sink write
type WriteObserver interface {
	ObserveWrite(backend string, err error)
}

// Open creates the sink named by cfg.Sink.Backend
func Open(cfg *config.Config, db database.DB, log *logrus.Logger) (Sink, error) {
	switch cfg.Sink.Backend {
	case config.SinkElasticsearch:
		return NewElasticsearchSink(cfg.Elasticsearch, log)
	case config.SinkPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres sink requires a database connection")
		}
		return NewPostgresSink(db), nil
	case config.SinkServiceBus:
		return NewServiceBusSink(cfg.ServiceBus, log)
	}
	return nil, fmt.Errorf("unknown sink backend %q", cfg.Sink.Backend)
}

type observedSink struct {
	Sink
	observer WriteObserver
}

// WithObserver reports every write made through s to observer
func WithObserver(s Sink, observer WriteObserver) Sink {
	if observer == nil {
		return s
	}
	return &observedSink{Sink: s, observer: observer}
}

func (o *observedSink) Write(ctx context.Context, stream string, ev ingest.EnrichedEvent) (ingest.WriteResult, error) {
	res, err := o.Sink.Write(ctx, stream, ev)
	o.observer.ObserveWrite(o.Backend(), err)
	return res, err
}
