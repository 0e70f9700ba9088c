// Package config loads the bridge's configuration from flags and environment
// variables, following the flag-then-env-override shape the teacher's
// signaling service uses.
package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds everything the bridge needs to start (§6).
type Config struct {
	// MNCCSocketPath is where the MNCC adapter dials its unixpacket socket.
	MNCCSocketPath string

	// SIPBindAddr/SIPBindPort is the local SIP transport listener.
	SIPBindAddr string
	SIPBindPort int

	// SIPAdvertiseAddr is the address embedded in SIP headers (From and
	// Contact). The SDP offer carries the MNCC leg's RTP address instead.
	SIPAdvertiseAddr string

	// SIPRemoteAddr is the default peer dialed for outbound SIP legs.
	SIPRemoteAddr string

	// UseIMSIAsID controls the MO/MT identifier selection of §4.3/§4.4.
	UseIMSIAsID bool

	// LogLevel is the slog level name (debug, info, warn, error).
	LogLevel string
}

// Load parses flags, then applies environment variable overrides.
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.MNCCSocketPath, "mncc-socket", "/tmp/bsc_mncc", "MNCC unixpacket socket path")
	flag.StringVar(&cfg.SIPBindAddr, "sip-bind-addr", "0.0.0.0", "SIP transport bind address")
	flag.IntVar(&cfg.SIPBindPort, "sip-bind-port", 5060, "SIP transport bind port")
	flag.StringVar(&cfg.SIPAdvertiseAddr, "sip-advertise-addr", "127.0.0.1", "address advertised in SIP headers")
	flag.StringVar(&cfg.SIPRemoteAddr, "sip-remote-addr", "127.0.0.1:5060", "default SIP peer for outbound legs")
	flag.BoolVar(&cfg.UseIMSIAsID, "use-imsi-as-id", false, "use IMSI instead of MSISDN as the bridged identifier")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if v := os.Getenv("MNCC_SOCKET"); v != "" {
		cfg.MNCCSocketPath = v
	}
	if v := os.Getenv("SIP_BIND_ADDR"); v != "" {
		cfg.SIPBindAddr = v
	}
	if v := os.Getenv("SIP_BIND_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SIPBindPort = p
		}
	}
	if v := os.Getenv("SIP_ADVERTISE_ADDR"); v != "" {
		cfg.SIPAdvertiseAddr = v
	}
	if v := os.Getenv("SIP_REMOTE_ADDR"); v != "" {
		cfg.SIPRemoteAddr = v
	}
	if v := os.Getenv("USE_IMSI_AS_ID"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseIMSIAsID = b
		}
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}
