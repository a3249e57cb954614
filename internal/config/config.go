// Package config loads nsrun's environment-driven configuration: where
// images and containers live on disk, and the host bridge/egress settings
// the network fabric uses.
package config

import (
	"net"
	"os"
)

const (
	// DefaultImageDir is where the image store scans for on-disk images.
	DefaultImageDir = "/var/opt/app/images"
	// DefaultContainerDataDir is where per-container state lives.
	DefaultContainerDataDir = "/var/opt/app/container"
	// DefaultBridgeName is the singleton host bridge's fixed name.
	DefaultBridgeName = "br-container"
	// DefaultBridgeCIDR is the bridge's gateway address and container subnet.
	DefaultBridgeCIDR = "192.168.0.1/24"
	// DefaultEgressIface is the host's primary external interface in the
	// reference environment the spec was distilled from.
	DefaultEgressIface = "eth1"
	// DefaultNetnsPrefix names netns's carved out for containers.
	DefaultNetnsPrefix = "container-ns-"
)

// Config is nsrun's resolved runtime configuration.
type Config struct {
	ImageDir         string
	ContainerDataDir string
	BridgeName       string
	BridgeGateway    net.IP
	BridgeNet        *net.IPNet
	EgressIface      string
	NetnsPrefix      string
}

// Load reads configuration from the environment, filling in defaults for
// anything unset. It never fails: malformed overrides fall back silently to
// defaults, since none of these values are user-request input.
func Load() *Config {
	cfg := &Config{
		ImageDir:         getenv("NSRUN_IMAGE_DIR", DefaultImageDir),
		ContainerDataDir: getenv("NSRUN_CONTAINER_DIR", DefaultContainerDataDir),
		BridgeName:       getenv("NSRUN_BRIDGE_NAME", DefaultBridgeName),
		EgressIface:      getenv("NSRUN_EGRESS_IFACE", DefaultEgressIface),
		NetnsPrefix:      DefaultNetnsPrefix,
	}

	cidr := getenv("NSRUN_BRIDGE_CIDR", DefaultBridgeCIDR)
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		_, ipnet, _ = net.ParseCIDR(DefaultBridgeCIDR)
		ip = net.ParseIP("192.168.0.1")
	}
	cfg.BridgeGateway = ip
	cfg.BridgeNet = ipnet

	return cfg
}

// LockPath is the advisory file lock path serializing fabric mutations.
func (c *Config) LockPath() string {
	return c.ContainerDataDir + "/.fabric.lock"
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
