package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Elasticsearch ElasticsearchConfig
	ServiceBus    ServiceBusConfig
	NewRelic      NewRelicConfig
	Sink          SinkConfig
	Ingest        IngestConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port            int
	Mode            string // debug, release, test
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Debug    bool
	MaxOpen  int
	MaxIdle  int
	MaxLife  time.Duration
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// ElasticsearchConfig holds the Elasticsearch configuration
type ElasticsearchConfig struct {
	URLs     []string
	Username string
	Password string
	Refresh  string
}

// ServiceBusConfig holds the Azure Service Bus configuration
type ServiceBusConfig struct {
	ConnectionString string
	QueuePrefix      string
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// SinkConfig selects where ingested events are written
type SinkConfig struct {
	Backend string // elasticsearch, postgres, servicebus
}

// IngestConfig holds the event ingestion pipeline configuration
type IngestConfig struct {
	IdentityHeader     string
	ClassifierField    string
	StreamPrefix       string
	AllowedClassifiers []string
	LookupTimeout      time.Duration
	WriteTimeout       time.Duration
	MaxBodyBytes       int64
	Schema             []FieldConfig
}

// FieldConfig describes one schema field as written in the config file:
//
//	ingest:
//	  schema:
//	    - name: metric
//	      type: string
//	      required: true
type FieldConfig struct {
	Name     string   `mapstructure:"name"`
	Type     string   `mapstructure:"type"`
	Required bool     `mapstructure:"required"`
	Values   []string `mapstructure:"values"`
}

// Sink backends
const (
	SinkElasticsearch = "elasticsearch"
	SinkPostgres      = "postgres"
	SinkServiceBus    = "servicebus"
)

// InitConfig initializes the configuration using Viper
func InitConfig(cfgFile string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/telemetry-service")
		viper.SetConfigName("config")
	}

	// TELEMETRY_SERVER_PORT overrides server.port
	viper.SetEnvPrefix("TELEMETRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("No config file found, using defaults and environment variables")
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	viper.SetDefault("server.port", 8096)
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.readtimeout", "15s")
	viper.SetDefault("server.writetimeout", "15s")
	viper.SetDefault("server.shutdowntimeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "telemetry")
	viper.SetDefault("database.password", "telemetry")
	viper.SetDefault("database.dbname", "telemetry_db")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.debug", false)
	viper.SetDefault("database.maxopen", 100)
	viper.SetDefault("database.maxidle", 20)
	viper.SetDefault("database.maxlife", "30m")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "5m")

	viper.SetDefault("elasticsearch.urls", []string{"http://localhost:9200"})
	viper.SetDefault("elasticsearch.refresh", "false")

	// No default connection string for security
	viper.SetDefault("servicebus.queueprefix", "")

	viper.SetDefault("newrelic.appname", "Telemetry Service Local")
	viper.SetDefault("newrelic.enabled", false)

	viper.SetDefault("sink.backend", SinkElasticsearch)

	viper.SetDefault("ingest.identityheader", "X-Device-ID")
	viper.SetDefault("ingest.classifierfield", "metric")
	viper.SetDefault("ingest.streamprefix", "")
	viper.SetDefault("ingest.allowedclassifiers", []string{})
	viper.SetDefault("ingest.lookuptimeout", "2s")
	viper.SetDefault("ingest.writetimeout", "5s")
	viper.SetDefault("ingest.maxbodybytes", 1<<20)
}

// Load loads the configuration
func Load() (*Config, error) {
	var schema []FieldConfig
	if err := viper.UnmarshalKey("ingest.schema", &schema); err != nil {
		return nil, fmt.Errorf("invalid ingest.schema: %w", err)
	}

	backend := strings.ToLower(viper.GetString("sink.backend"))
	switch backend {
	case SinkElasticsearch, SinkPostgres, SinkServiceBus:
	default:
		return nil, fmt.Errorf("unknown sink backend %q", backend)
	}

	return &Config{
		Server: ServerConfig{
			Port:            viper.GetInt("server.port"),
			Mode:            viper.GetString("server.mode"),
			ReadTimeout:     viper.GetDuration("server.readtimeout"),
			WriteTimeout:    viper.GetDuration("server.writetimeout"),
			ShutdownTimeout: viper.GetDuration("server.shutdowntimeout"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
			Debug:    viper.GetBool("database.debug"),
			MaxOpen:  viper.GetInt("database.maxopen"),
			MaxIdle:  viper.GetInt("database.maxidle"),
			MaxLife:  viper.GetDuration("database.maxlife"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			TTL:      viper.GetDuration("redis.ttl"),
		},
		Elasticsearch: ElasticsearchConfig{
			URLs:     viper.GetStringSlice("elasticsearch.urls"),
			Username: viper.GetString("elasticsearch.username"),
			Password: viper.GetString("elasticsearch.password"),
			Refresh:  viper.GetString("elasticsearch.refresh"),
		},
		ServiceBus: ServiceBusConfig{
			ConnectionString: viper.GetString("servicebus.connectionstring"),
			QueuePrefix:      viper.GetString("servicebus.queueprefix"),
		},
		NewRelic: NewRelicConfig{
			AppName:    viper.GetString("newrelic.appname"),
			LicenseKey: viper.GetString("newrelic.licensekey"),
			Enabled:    viper.GetBool("newrelic.enabled"),
		},
		Sink: SinkConfig{
			Backend: backend,
		},
		Ingest: IngestConfig{
			IdentityHeader:     viper.GetString("ingest.identityheader"),
			ClassifierField:    viper.GetString("ingest.classifierfield"),
			StreamPrefix:       viper.GetString("ingest.streamprefix"),
			AllowedClassifiers: viper.GetStringSlice("ingest.allowedclassifiers"),
			LookupTimeout:      viper.GetDuration("ingest.lookuptimeout"),
			WriteTimeout:       viper.GetDuration("ingest.writetimeout"),
			MaxBodyBytes:       viper.GetInt64("ingest.maxbodybytes"),
			Schema:             schema,
		},
	}, nil
}
