package main

import (
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/horgh/config"
	"github.com/pkg/errors"
)

// Config holds a server's configuration.
type Config struct {
	// Address we bind our UDP socket to.
	Bind netip.AddrPort

	// Neighboring servers. Fixed for the life of the process.
	Neighbors []netip.AddrPort

	// Period of time to wait before waking the server up to do bookkeeping.
	WakeupTime time.Duration

	// How often we re-announce our subscriptions to our neighbors.
	RenewalTime time.Duration

	// A subscription not renewed for longer than this is torn down.
	ExpiryTime time.Duration

	// How long we remember S2S SAY ids, and how many at most.
	SeenIDsWindow time.Duration
	SeenIDsMax    int

	// host:port for the operator console. Blank to disable.
	AdminListen string

	// host:port to serve Prometheus metrics on. Blank to disable.
	MetricsListen string

	Debug bool
}

func defaultConfig() *Config {
	return &Config{
		WakeupTime:    time.Second,
		RenewalTime:   60 * time.Second,
		ExpiryTime:    120 * time.Second,
		SeenIDsWindow: 240 * time.Second,
		SeenIDsMax:    65536,
	}
}

// Keys we accept in a config file. All are optional.
var configKeys = map[string]struct{}{
	"wakeup-time":     {},
	"renewal-time":    {},
	"expiry-time":     {},
	"seen-ids-window": {},
	"seen-ids-max":    {},
	"admin-listen":    {},
	"metrics-listen":  {},
	"debug":           {},
}

// loadConfig builds the configuration from the command line and the optional
// config file.
func loadConfig(args Args) (*Config, error) {
	c := defaultConfig()

	if args.ConfigFile != "" {
		configMap, err := config.ReadStringMap(args.ConfigFile)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read config")
		}

		if err := c.parseMap(configMap); err != nil {
			return nil, errors.Wrapf(err, "config file %s", args.ConfigFile)
		}
	}

	bind, err := resolveAddr(args.BindHost, args.BindPort)
	if err != nil {
		return nil, errors.Wrap(err, "invalid bind address")
	}
	c.Bind = bind

	for _, hp := range args.Neighbors {
		addr, err := resolveAddr(hp.Host, hp.Port)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid neighbor %s %s", hp.Host, hp.Port)
		}
		c.Neighbors = append(c.Neighbors, addr)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// parseMap sets fields from the key = value pairs of a config file.
func (c *Config) parseMap(m map[string]string) error {
	for key := range m {
		if _, ok := configKeys[key]; !ok {
			return errors.Errorf("unknown key: %s", key)
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"wakeup-time", &c.WakeupTime},
		{"renewal-time", &c.RenewalTime},
		{"expiry-time", &c.ExpiryTime},
		{"seen-ids-window", &c.SeenIDsWindow},
	}

	for _, d := range durations {
		v, exists := m[d.key]
		if !exists || v == "" {
			continue
		}

		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%s is in invalid format", d.key)
		}
		*d.dst = parsed
	}

	if v := m["seen-ids-max"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "seen-ids-max is not valid")
		}
		c.SeenIDsMax = n
	}

	c.AdminListen = m["admin-listen"]
	c.MetricsListen = m["metrics-listen"]

	if v := m["debug"]; v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "debug is not valid")
		}
		c.Debug = debug
	}

	return nil
}

func (c *Config) validate() error {
	if c.WakeupTime <= 0 || c.RenewalTime <= 0 || c.ExpiryTime <= 0 ||
		c.SeenIDsWindow <= 0 {
		return errors.New("durations must be positive")
	}

	// Otherwise subscriptions would expire before we renew them.
	if c.RenewalTime >= c.ExpiryTime {
		return errors.Errorf("renewal time (%s) must be less than expiry time (%s)",
			c.RenewalTime, c.ExpiryTime)
	}

	if c.SeenIDsMax <= 0 {
		return errors.New("seen-ids-max must be positive")
	}

	return nil
}

// resolveAddr turns a host and port from the command line into an IPv4
// address. localhost is accepted as a name for 127.0.0.1.
func resolveAddr(host, port string) (netip.AddrPort, error) {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "invalid port: %s", port)
	}

	if host == "localhost" {
		host = "127.0.0.1"
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), uint16(p)), nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, port))
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "unable to resolve %s", host)
	}

	ap := udpAddr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
