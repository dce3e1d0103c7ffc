package cmd

import (
	"fmt"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/database"
	"example.com/backstage/services/telemetry/internal/ingest"

	"github.com/sirupsen/logrus"
)

const maxConnectRetries = 5

// connectDatabase connects to postgres, retrying with exponential backoff
func connectDatabase(cfg config.DatabaseConfig) (database.DB, error) {
	var (
		db  database.DB
		err error
	)
	retryInterval := time.Second

	for i := 0; i < maxConnectRetries; i++ {
		log.WithField("attempt", i+1).Info("Connecting to database...")
		db, err = database.Connect(cfg, log)
		if err == nil {
			log.Info("Successfully connected to database")
			return db, nil
		}

		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": i + 1,
			"max_retries":   maxConnectRetries,
		}).Error("Failed to connect to database, retrying...")

		if i < maxConnectRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxConnectRetries, err)
}

func closeDatabase(db database.DB) {
	log.Info("Closing database connection...")
	if err := db.Close(); err != nil {
		log.WithField("error", err.Error()).Error("Error closing database connection")
	}
}

// schemaFromConfig builds the payload schema from ingest.schema, falling
// back to the default metric/value/unit schema when none is configured.
func schemaFromConfig(cfg config.IngestConfig) (ingest.Schema, error) {
	if len(cfg.Schema) == 0 {
		return ingest.DefaultSchema(cfg.ClassifierField)
	}

	fields := make([]ingest.FieldSpec, 0, len(cfg.Schema))
	for _, f := range cfg.Schema {
		typ, err := ingest.ParseSemanticType(f.Type)
		if err != nil {
			return ingest.Schema{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields = append(fields, ingest.FieldSpec{
			Name:     f.Name,
			Type:     typ,
			Required: f.Required,
			Values:   f.Values,
		})
	}
	return ingest.NewSchema(cfg.ClassifierField, fields...)
}
