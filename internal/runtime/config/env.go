package config

import (
	"os"
	"strings"
)

// Environment variables read by ApplyEnv.
const (
	EnvSeedRouteTable    = "RMR_SEED_RT"
	EnvSourceID          = "RMR_SRC_ID"
	EnvPlatformNamespace = "PLT_NAMESPACE"
	EnvXAppName          = "XAPP_NAME"
)

// ApplyEnv overrides fields from the process environment. Unset variables
// leave the field untouched.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvSeedRouteTable, &c.RouteTableFile)
	set(EnvSourceID, &c.AdvertiseHost)
	set(EnvPlatformNamespace, &c.PlatformNamespace)
	set(EnvXAppName, &c.XAppName)
}

// ServiceEnvName returns the variable holding an endpoint of an xApp service,
// e.g. SERVICE_RICXAPP_PONG_HTTP_SERVICE_HOST.
func ServiceEnvName(namespace, xapp, service, field string) string {
	name := "SERVICE_" + namespace + "_" + xapp + "_" + service + "_SERVICE_" + field
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
