package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/drblury/xappflow/internal/runtime/jsoncodec"
)

// Descriptor port names.
const (
	PortRMRData = "rmrdata"
	PortHTTP    = "http"
)

// ConfigMetadata identifies the xApp a descriptor belongs to.
type ConfigMetadata struct {
	XAppName   string `json:"xappName"`
	ConfigType string `json:"configType"`
}

// XAppDescriptor is the xApp configuration document served under
// /ric/v1/config and sent to the App Manager on registration.
type XAppDescriptor struct {
	Metadata ConfigMetadata  `json:"metadata"`
	Config   json.RawMessage `json:"config"`
}

// PortSpec is one entry of messaging.ports.
type PortSpec struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

type descriptorBody struct {
	Messaging struct {
		Ports []PortSpec `json:"ports"`
	} `json:"messaging"`
}

// ParseDescriptor decodes a descriptor document.
func ParseDescriptor(data []byte) (*XAppDescriptor, error) {
	var d XAppDescriptor
	if err := jsoncodec.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse xapp descriptor: %w", err)
	}
	return &d, nil
}

// LoadDescriptor reads and decodes a descriptor file.
func LoadDescriptor(path string) (*XAppDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read xapp descriptor: %w", err)
	}
	return ParseDescriptor(data)
}

// Ports lists messaging.ports.
func (d *XAppDescriptor) Ports() ([]PortSpec, error) {
	if len(d.Config) == 0 {
		return nil, nil
	}
	var body descriptorBody
	if err := jsoncodec.Unmarshal(d.Config, &body); err != nil {
		return nil, fmt.Errorf("parse messaging ports: %w", err)
	}
	return body.Messaging.Ports, nil
}

// PortFor returns the port named service. The last matching entry wins.
func (d *XAppDescriptor) PortFor(service string) (int, error) {
	ports, err := d.Ports()
	if err != nil {
		return 0, err
	}
	port := -1
	for _, p := range ports {
		if p.Name == service {
			port = p.Port
		}
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid %s port number in the config: %d", service, port)
	}
	return port, nil
}

// ConfigString returns the raw config document.
func (d *XAppDescriptor) ConfigString() string {
	return string(d.Config)
}

// FromDescriptor builds a Config carrying the xApp name and both ports of d.
// It fails unless d names valid "rmrdata" and "http" ports.
func FromDescriptor(d *XAppDescriptor) (*Config, error) {
	if d == nil {
		return nil, fmt.Errorf("xapp descriptor is nil")
	}
	httpPort, err := d.PortFor(PortHTTP)
	if err != nil {
		return nil, err
	}
	rmrPort, err := d.PortFor(PortRMRData)
	if err != nil {
		return nil, err
	}
	return &Config{
		XAppName:         d.Metadata.XAppName,
		RMRPort:          rmrPort,
		HTTPPort:         httpPort,
		WebServerEnabled: true,
		MetricsEnabled:   true,
	}, nil
}
