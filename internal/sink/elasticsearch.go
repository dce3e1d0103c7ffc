package sink

import (
	"bytes"
	"context"
	"encoding/json"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/ingest"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ElasticsearchSink indexes each event into the index named by its stream.
// Document IDs are assigned by Elasticsearch.
type ElasticsearchSink struct {
	client  *elasticsearch.Client
	refresh string
	log     *logrus.Logger
}

// NewElasticsearchSink creates a sink for the configured cluster
func NewElasticsearchSink(cfg config.ElasticsearchConfig, log *logrus.Logger) (*ElasticsearchSink, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.URLs,
	}
	if cfg.Username != "" && cfg.Password != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	if log == nil {
		log = logrus.New()
	}
	return &ElasticsearchSink{client: client, refresh: cfg.Refresh, log: log}, nil
}

// Backend names the sink
func (s *ElasticsearchSink) Backend() string {
	return config.SinkElasticsearch
}

// Ping checks that the cluster answers
func (s *ElasticsearchSink) Ping(ctx context.Context) error {
	res, err := s.client.Info(s.client.Info.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "failed to connect to Elasticsearch")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("Elasticsearch error: %s", res.String())
	}
	return nil
}

// Write indexes ev into the stream index
func (s *ElasticsearchSink) Write(ctx context.Context, stream string, ev ingest.EnrichedEvent) (ingest.WriteResult, error) {
	data, err := json.Marshal(ev.Document())
	if err != nil {
		return ingest.WriteResult{}, errors.Wrap(err, "failed to marshal event document")
	}

	req := esapi.IndexRequest{
		Index: stream,
		Body:  bytes.NewReader(data),
	}
	if s.refresh != "" {
		req.Refresh = s.refresh
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return ingest.WriteResult{}, errors.Wrap(err, "failed to index event")
	}
	defer res.Body.Close()

	if res.IsError() {
		return ingest.WriteResult{}, errors.Errorf("error indexing event into %s: %s", stream, res.String())
	}

	var body struct {
		ID     string `json:"_id"`
		Index  string `json:"_index"`
		Result string `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return ingest.WriteResult{}, errors.Wrap(err, "failed to parse index response")
	}

	s.log.WithFields(logrus.Fields{
		"index":  body.Index,
		"doc_id": body.ID,
		"result": body.Result,
	}).Debug("Indexed event")

	return ingest.WriteResult{Stream: stream, ID: body.ID}, nil
}

// Close releases the sink. The HTTP transport needs no teardown.
func (s *ElasticsearchSink) Close(context.Context) error {
	return nil
}
