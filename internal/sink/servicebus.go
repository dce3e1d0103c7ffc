package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/ingest"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type messageSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// ServiceBusSink publishes each event to the queue named by its stream
type ServiceBusSink struct {
	client    *azservicebus.Client
	prefix    string
	log       *logrus.Logger
	newSender func(queue string) (messageSender, error)

	mu      sync.Mutex
	senders map[string]messageSender
}

// NewServiceBusSink connects to the configured namespace
func NewServiceBusSink(cfg config.ServiceBusConfig, log *logrus.Logger) (*ServiceBusSink, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("service bus connection string is required")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create service bus client")
	}

	s := newServiceBusSink(cfg.QueuePrefix, log, func(queue string) (messageSender, error) {
		return client.NewSender(queue, nil)
	})
	s.client = client
	return s, nil
}

func newServiceBusSink(prefix string, log *logrus.Logger, newSender func(string) (messageSender, error)) *ServiceBusSink {
	if log == nil {
		log = logrus.New()
	}
	return &ServiceBusSink{
		prefix:    prefix,
		log:       log,
		newSender: newSender,
		senders:   make(map[string]messageSender),
	}
}

// Backend names the sink
func (s *ServiceBusSink) Backend() string {
	return config.SinkServiceBus
}

func (s *ServiceBusSink) queueName(stream string) string {
	if s.prefix == "" {
		return stream
	}
	return fmt.Sprintf("%s-%s", s.prefix, stream)
}

func (s *ServiceBusSink) sender(queue string) (messageSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sender, ok := s.senders[queue]; ok {
		return sender, nil
	}
	sender, err := s.newSender(queue)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create sender for queue %s", queue)
	}
	s.senders[queue] = sender
	return sender, nil
}

// Write sends ev as a JSON message. The message ID is returned as the event ID.
func (s *ServiceBusSink) Write(ctx context.Context, stream string, ev ingest.EnrichedEvent) (ingest.WriteResult, error) {
	data, err := json.Marshal(ev.Document())
	if err != nil {
		return ingest.WriteResult{}, errors.Wrap(err, "failed to marshal event document")
	}

	queue := s.queueName(stream)
	sender, err := s.sender(queue)
	if err != nil {
		return ingest.WriteResult{}, err
	}

	id := uuid.New().String()
	contentType := "application/json"
	msg := &azservicebus.Message{
		Body:        data,
		MessageID:   &id,
		ContentType: &contentType,
		ApplicationProperties: map[string]any{
			"device_id": ev.DeviceID,
			"stream":    stream,
		},
	}

	if err := sender.SendMessage(ctx, msg, nil); err != nil {
		return ingest.WriteResult{}, errors.Wrapf(err, "failed to send event to queue %s", queue)
	}

	return ingest.WriteResult{Stream: stream, ID: id}, nil
}

// Close closes every sender and the client
func (s *ServiceBusSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for queue, sender := range s.senders {
		if err := sender.Close(ctx); err != nil {
			s.log.WithError(err).WithField("queue", queue).Warn("Failed to close service bus sender")
		}
	}
	s.senders = make(map[string]messageSender)

	if s.client == nil {
		return nil
	}
	return s.client.Close(ctx)
}
