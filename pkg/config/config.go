package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

const (
	// DefaultListenAddr is where the DNS server listens when unset
	DefaultListenAddr = "0.0.0.0:53"

	// DefaultAPIAddr is the HTTP status/admin API address
	DefaultAPIAddr = "127.0.0.1:3506"

	// DefaultDataDir holds the admin state database
	DefaultDataDir = "/var/lib/dynadns"

	// DefaultMaxTTL caps every TTL the server hands out
	DefaultMaxTTL = 86400

	// DefaultMinTTL is the floor applied to dynamic answers
	DefaultMinTTL = 5

	// DefaultZoneReload is how often zone files are checked for changes
	DefaultZoneReload = 10 * time.Second
)

// Options is the typed projection of the top-level "options" block.
type Options struct {
	Listen     []string
	IOThreads  int
	APIAddr    string
	GRPCAddr   string
	APITLS     bool
	DataDir    string
	MaxTTL     uint32
	MinTTL     uint32
	LogLevel   string
	LogJSON    bool
	ZonesDir   string
	DNSNetwork []string

	// ZoneReload is how often zone files are checked for changes; zero
	// disables the check.
	ZoneReload time.Duration
}

// ZoneConfig names a zone file and the origin it is loaded under.
type ZoneConfig struct {
	Origin string
	File   string
}

// File is a whole parsed configuration file. Core reads Options and Zones;
// ServiceTypes and Plugins stay as raw trees for the runtime and plugins to
// project.
type File struct {
	Options      Options
	ServiceTypes *Node
	Plugins      *Node
	Zones        []ZoneConfig
}

// Load reads and parses a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	f, err := ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseFile parses configuration from memory.
func ParseFile(data []byte) (*File, error) {
	root, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if root.Kind() != KindHash {
		return nil, root.Errorf("top level must be a hash")
	}
	if err := root.CheckKeys("options", "service_types", "plugins", "zones"); err != nil {
		return nil, err
	}

	f := &File{
		ServiceTypes: Hash(),
		Plugins:      Hash(),
	}

	opts, _ := root.Get("options")
	if opts.Kind() != KindHash {
		return nil, opts.Errorf("options must be a hash")
	}
	if f.Options, err = parseOptions(opts); err != nil {
		return nil, err
	}

	if st, ok := root.Get("service_types"); ok {
		if st.Kind() != KindHash {
			return nil, st.Errorf("service_types must be a hash")
		}
		f.ServiceTypes = st
	}
	if p, ok := root.Get("plugins"); ok {
		if p.Kind() != KindHash {
			return nil, p.Errorf("plugins must be a hash")
		}
		f.Plugins = p
	}
	if z, ok := root.Get("zones"); ok {
		if f.Zones, err = parseZones(z, f.Options.ZonesDir); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func parseOptions(n *Node) (Options, error) {
	var o Options
	var err error

	if err = n.CheckKeys("listen", "io_threads", "api_listen", "grpc_listen", "api_tls", "data_dir",
		"max_ttl", "min_ttl", "log_level", "log_json", "zones_dir", "dns_network", "zone_reload_interval"); err != nil {
		return o, err
	}

	o.Listen = []string{DefaultListenAddr}
	if l, ok := n.Get("listen"); ok {
		if o.Listen, err = l.Strings(); err != nil {
			return o, err
		}
	}
	o.DNSNetwork = []string{"udp", "tcp"}
	if l, ok := n.Get("dns_network"); ok {
		if o.DNSNetwork, err = l.Strings(); err != nil {
			return o, err
		}
		for _, net := range o.DNSNetwork {
			if net != "udp" && net != "tcp" {
				return o, l.Errorf("dns_network: unsupported network %q", net)
			}
		}
	}
	if o.IOThreads, err = n.IntRange("io_threads", runtime.NumCPU(), 1, 1024); err != nil {
		return o, err
	}
	if o.APIAddr, err = n.String("api_listen", DefaultAPIAddr); err != nil {
		return o, err
	}
	if o.GRPCAddr, err = n.String("grpc_listen", ""); err != nil {
		return o, err
	}
	if o.APITLS, err = n.Bool("api_tls", false); err != nil {
		return o, err
	}
	if o.DataDir, err = n.String("data_dir", DefaultDataDir); err != nil {
		return o, err
	}
	maxTTL, err := n.IntRange("max_ttl", DefaultMaxTTL, 3600, 0x0FFFFFFF)
	if err != nil {
		return o, err
	}
	minTTL, err := n.IntRange("min_ttl", DefaultMinTTL, 0, 86400)
	if err != nil {
		return o, err
	}
	if minTTL > maxTTL {
		return o, n.Errorf("min_ttl (%d) must not exceed max_ttl (%d)", minTTL, maxTTL)
	}
	o.MaxTTL, o.MinTTL = uint32(maxTTL), uint32(minTTL)
	if o.LogLevel, err = n.String("log_level", "info"); err != nil {
		return o, err
	}
	if o.LogJSON, err = n.Bool("log_json", false); err != nil {
		return o, err
	}
	if o.ZonesDir, err = n.String("zones_dir", ""); err != nil {
		return o, err
	}
	if o.ZoneReload, err = n.Duration("zone_reload_interval", DefaultZoneReload); err != nil {
		return o, err
	}
	if o.ZoneReload < 0 {
		return o, n.Errorf("zone_reload_interval must not be negative")
	}
	return o, nil
}

func parseZones(n *Node, dir string) ([]ZoneConfig, error) {
	if n.Kind() != KindHash {
		return nil, n.Errorf("zones must be a hash of origin to file")
	}
	zones := make([]ZoneConfig, 0, n.Len())
	for _, origin := range n.Keys() {
		v, _ := n.Get(origin)
		file, err := v.Value()
		if err != nil {
			return nil, err
		}
		if dir != "" && !strings.HasPrefix(file, "/") {
			file = dir + "/" + file
		}
		if !strings.HasSuffix(origin, ".") {
			origin += "."
		}
		zones = append(zones, ZoneConfig{Origin: strings.ToLower(origin), File: file})
	}
	return zones, nil
}
