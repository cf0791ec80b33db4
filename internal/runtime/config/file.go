package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/drblury/xappflow/internal/runtime/ids"
	"github.com/drblury/xappflow/internal/runtime/jsoncodec"
)

// fileConfig is the on-disk shape. Durations are strings parsed with
// time.ParseDuration.
type fileConfig struct {
	BusSystem      string `toml:"bus_system" yaml:"bus_system" json:"bus_system"`
	RouteTableFile string `toml:"route_table" yaml:"route_table" json:"route_table"`
	AdvertiseHost  string `toml:"advertise_host" yaml:"advertise_host" json:"advertise_host"`
	TopicPrefix    string `toml:"topic_prefix" yaml:"topic_prefix" json:"topic_prefix"`
	RMRPort        int    `toml:"rmr_port" yaml:"rmr_port" json:"rmr_port"`
	RMRFlags       int    `toml:"rmr_flags" yaml:"rmr_flags" json:"rmr_flags"`
	MaxPayloadSize int    `toml:"max_payload_size" yaml:"max_payload_size" json:"max_payload_size"`

	Kafka struct {
		Brokers       []string `toml:"brokers" yaml:"brokers" json:"brokers"`
		ClientID      string   `toml:"client_id" yaml:"client_id" json:"client_id"`
		ConsumerGroup string   `toml:"consumer_group" yaml:"consumer_group" json:"consumer_group"`
	} `toml:"kafka" yaml:"kafka" json:"kafka"`
	RabbitMQURL string `toml:"rabbitmq_url" yaml:"rabbitmq_url" json:"rabbitmq_url"`
	NATSURL     string `toml:"nats_url" yaml:"nats_url" json:"nats_url"`
	HTTP        struct {
		ServerAddress string `toml:"server_address" yaml:"server_address" json:"server_address"`
		PublisherURL  string `toml:"publisher_url" yaml:"publisher_url" json:"publisher_url"`
	} `toml:"http_bus" yaml:"http_bus" json:"http_bus"`
	IOFile string `toml:"io_file" yaml:"io_file" json:"io_file"`
	AWS    struct {
		Region          string `toml:"region" yaml:"region" json:"region"`
		AccountID       string `toml:"account_id" yaml:"account_id" json:"account_id"`
		AccessKeyID     string `toml:"access_key_id" yaml:"access_key_id" json:"access_key_id"`
		SecretAccessKey string `toml:"secret_access_key" yaml:"secret_access_key" json:"secret_access_key"`
		Endpoint        string `toml:"endpoint" yaml:"endpoint" json:"endpoint"`
	} `toml:"aws" yaml:"aws" json:"aws"`

	Pipeline struct {
		QueueSize        int    `toml:"queue_size" yaml:"queue_size" json:"queue_size"`
		ReadyBackoff     string `toml:"ready_backoff" yaml:"ready_backoff" json:"ready_backoff"`
		EventWaitTimeout string `toml:"event_wait_timeout" yaml:"event_wait_timeout" json:"event_wait_timeout"`
		DispatchTimeout  string `toml:"dispatch_timeout" yaml:"dispatch_timeout" json:"dispatch_timeout"`
	} `toml:"pipeline" yaml:"pipeline" json:"pipeline"`

	XApp struct {
		Name              string `toml:"name" yaml:"name" json:"name"`
		Instance          string `toml:"instance" yaml:"instance" json:"instance"`
		Namespace         string `toml:"namespace" yaml:"namespace" json:"namespace"`
		PlatformNamespace string `toml:"platform_namespace" yaml:"platform_namespace" json:"platform_namespace"`
		AppManagerURL     string `toml:"app_manager_url" yaml:"app_manager_url" json:"app_manager_url"`
		AlarmManagerURL   string `toml:"alarm_manager_url" yaml:"alarm_manager_url" json:"alarm_manager_url"`
	} `toml:"xapp" yaml:"xapp" json:"xapp"`

	Web struct {
		Enabled            bool     `toml:"enabled" yaml:"enabled" json:"enabled"`
		Port               int      `toml:"port" yaml:"port" json:"port"`
		Metrics            bool     `toml:"metrics" yaml:"metrics" json:"metrics"`
		CORSAllowedOrigins []string `toml:"cors_allowed_origins" yaml:"cors_allowed_origins" json:"cors_allowed_origins"`
	} `toml:"web" yaml:"web" json:"web"`

	SDL struct {
		Backend       string   `toml:"backend" yaml:"backend" json:"backend"`
		SQLiteFile    string   `toml:"sqlite_file" yaml:"sqlite_file" json:"sqlite_file"`
		PostgresURL   string   `toml:"postgres_url" yaml:"postgres_url" json:"postgres_url"`
		EtcdEndpoints []string `toml:"etcd_endpoints" yaml:"etcd_endpoints" json:"etcd_endpoints"`
		EtcdTimeout   string   `toml:"etcd_dial_timeout" yaml:"etcd_dial_timeout" json:"etcd_dial_timeout"`
	} `toml:"sdl" yaml:"sdl" json:"sdl"`
}

// Load reads a configuration file. The format follows the extension:
// .toml, .yaml/.yml or .json.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".json":
		err = jsoncodec.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg, err := raw.toConfig()
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (f *fileConfig) toConfig() (*Config, error) {
	cfg := &Config{
		BusSystem:          strings.TrimSpace(f.BusSystem),
		RouteTableFile:     f.RouteTableFile,
		AdvertiseHost:      f.AdvertiseHost,
		TopicPrefix:        f.TopicPrefix,
		RMRPort:            f.RMRPort,
		RMRFlags:           f.RMRFlags,
		MaxPayloadSize:     f.MaxPayloadSize,
		KafkaBrokers:       f.Kafka.Brokers,
		KafkaClientID:      f.Kafka.ClientID,
		KafkaConsumerGroup: f.Kafka.ConsumerGroup,
		RabbitMQURL:        f.RabbitMQURL,
		NATSURL:            f.NATSURL,
		HTTPServerAddress:  f.HTTP.ServerAddress,
		HTTPPublisherURL:   f.HTTP.PublisherURL,
		IOFile:             f.IOFile,
		AWSRegion:          f.AWS.Region,
		AWSAccountID:       f.AWS.AccountID,
		AWSAccessKeyID:     f.AWS.AccessKeyID,
		AWSSecretAccessKey: f.AWS.SecretAccessKey,
		AWSEndpoint:        f.AWS.Endpoint,
		QueueSize:          f.Pipeline.QueueSize,
		XAppName:           f.XApp.Name,
		XAppInstance:       f.XApp.Instance,
		XAppNamespace:      f.XApp.Namespace,
		PlatformNamespace:  f.XApp.PlatformNamespace,
		AppManagerURL:      f.XApp.AppManagerURL,
		AlarmManagerURL:    f.XApp.AlarmManagerURL,
		HTTPPort:           f.Web.Port,
		WebServerEnabled:   f.Web.Enabled,
		MetricsEnabled:     f.Web.Metrics,
		CORSAllowedOrigins: f.Web.CORSAllowedOrigins,
		SDLBackend:         f.SDL.Backend,
		SQLiteFile:         f.SDL.SQLiteFile,
		PostgresURL:        f.SDL.PostgresURL,
		EtcdEndpoints:      f.SDL.EtcdEndpoints,
	}
	if cfg.XAppInstance == "" && cfg.XAppName != "" {
		cfg.XAppInstance = ids.InstanceName(cfg.XAppName)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"pipeline.ready_backoff", f.Pipeline.ReadyBackoff, &cfg.ReadyBackoff},
		{"pipeline.event_wait_timeout", f.Pipeline.EventWaitTimeout, &cfg.EventWaitTimeout},
		{"pipeline.dispatch_timeout", f.Pipeline.DispatchTimeout, &cfg.DispatchTimeout},
		{"sdl.etcd_dial_timeout", f.SDL.EtcdTimeout, &cfg.EtcdDialTimeout},
	}
	for _, d := range durations {
		v := strings.TrimSpace(d.raw)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return cfg, nil
}
