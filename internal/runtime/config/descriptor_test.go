package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pongDescriptor = `{
	"metadata": {"xappName": "pong", "configType": "json"},
	"config": {
		"messaging": {
			"ports": [
				{"name": "rmrdata", "port": 4560},
				{"name": "http", "port": 8080}
			]
		}
	}
}`

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(pongDescriptor))
	require.NoError(t, err)
	assert.Equal(t, "pong", d.Metadata.XAppName)
	assert.Equal(t, "json", d.Metadata.ConfigType)

	port, err := d.PortFor(PortRMRData)
	require.NoError(t, err)
	assert.Equal(t, 4560, port)
	port, err = d.PortFor(PortHTTP)
	require.NoError(t, err)
	assert.Equal(t, 8080, port)
	assert.Contains(t, d.ConfigString(), "messaging")

	_, err = ParseDescriptor([]byte("{"))
	assert.Error(t, err)
}

func TestFromDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(pongDescriptor))
	require.NoError(t, err)
	cfg, err := FromDescriptor(d)
	require.NoError(t, err)
	assert.Equal(t, "pong", cfg.XAppName)
	assert.Equal(t, 4560, cfg.RMRPort)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.True(t, cfg.WebServerEnabled)
}

func TestFromDescriptor_RequiresBothPorts(t *testing.T) {
	for _, body := range []string{
		`{"metadata": {"xappName": "t"}, "config": {"messaging": {"ports": [{"name": "rmrdata", "port": 4444}]}}}`,
		`{"metadata": {"xappName": "t"}, "config": {"messaging": {"ports": [{"name": "http", "port": 4444}]}}}`,
		`{"metadata": {"xappName": "t"}, "config": {"messaging": {"ports": [{"name": "http", "port": 70000}, {"name": "rmrdata", "port": 1}]}}}`,
		`{"metadata": {"xappName": "t"}}`,
	} {
		d, err := ParseDescriptor([]byte(body))
		require.NoError(t, err)
		_, err = FromDescriptor(d)
		assert.Error(t, err, body)
	}
	_, err := FromDescriptor(nil)
	assert.Error(t, err)
}
