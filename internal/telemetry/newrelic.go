package telemetry

import (
	"time"

	"example.com/backstage/services/telemetry/config"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// InitNewRelic starts the New Relic agent. It returns a nil application when
// APM is disabled or no license key is configured.
func InitNewRelic(cfg config.NewRelicConfig) (*newrelic.Application, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return nil, err
	}

	if err := app.WaitForConnection(5 * time.Second); err != nil {
		return nil, err
	}
	return app, nil
}
