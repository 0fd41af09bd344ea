// Package config loads the daemon's runtime settings from a config
// file plus environment overrides, layered with github.com/spf13/viper
// the way the broader retrieval pack's network daemons do, rather than
// a flat struct filled directly from flag.Parse().
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sndnv/syn-server-core/internal/ids"
)

// Endpoints bundles the three listener addresses a device advertises
// to its peers during the pairing handshake.
type Endpoints struct {
	InitAddr    string
	InitPort    uint16
	CommandAddr string
	CommandPort uint16
	DataAddr    string
	DataPort    uint16
}

// Timeouts mirrors coordinator.Timeouts at the config layer so the
// coordinator package itself never depends on viper.
type Timeouts struct {
	Setup      time.Duration
	Inactivity time.Duration
	Discard    time.Duration
}

// Config is the fully-resolved daemon configuration.
type Config struct {
	LocalDeviceId      ids.DeviceId
	LocalRole          ids.PeerRole
	LocalPrivateKeyPEM string

	// LocalECDHPrivateKeyHex is this device's static X25519 private key,
	// hex-encoded, used as the acceptor side of the ECDH flavor of the
	// command-channel handshake.
	LocalECDHPrivateKeyHex string

	// LocalKeyExchange selects which of LocalPrivateKeyPEM (RSA) or
	// LocalECDHPrivateKeyHex (ECDH) is this device's active long-term
	// identity, advertised to newly paired peers.
	LocalKeyExchange ids.KeyExchange

	// LocalPublicKeyPEM is this device's own RSA public key (PEM),
	// advertised to peers when LocalKeyExchange is RSA.
	LocalPublicKeyPEM string

	// LocalECDHPublicKeyHex is this device's own static X25519 public
	// key, hex-encoded, advertised to peers when LocalKeyExchange is
	// ECDH.
	LocalECDHPublicKeyHex string

	MaxDataSize        int
	Endpoints          Endpoints
	Timeouts           Timeouts
	InitHandshakeRate  float64
	InitHandshakeBurst int

	// MaxConnectionsPerListener caps the number of simultaneously open
	// connections each of the init/command/data listeners will accept,
	// via golang.org/x/net/netutil.LimitListener. Zero disables the cap.
	MaxConnectionsPerListener int

	Debug bool
}

// Load reads settings from a small set of defaults, path (if
// non-empty), and SYN_-prefixed environment variables, in that order
// of increasing precedence, then validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("local.role", "CLIENT")
	v.SetDefault("local.key_exchange", "ECDH")
	v.SetDefault("max_data_size", 64<<20)
	v.SetDefault("timeouts.setup", "10s")
	v.SetDefault("timeouts.inactivity", "30s")
	v.SetDefault("timeouts.discard", "30s")
	v.SetDefault("init_handshake.rate", 0.0)
	v.SetDefault("init_handshake.burst", 1)
	v.SetDefault("max_connections_per_listener", 1024)
	v.SetDefault("debug", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	deviceId, err := ids.DeviceIdFromString(v.GetString("local.device_id"))
	if err != nil {
		return Config{}, fmt.Errorf("config: local.device_id: %w", err)
	}

	role, err := parseRole(v.GetString("local.role"))
	if err != nil {
		return Config{}, err
	}

	keyExchange, err := parseKeyExchange(v.GetString("local.key_exchange"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LocalDeviceId:          deviceId,
		LocalRole:              role,
		LocalPrivateKeyPEM:     v.GetString("local.private_key_pem"),
		LocalECDHPrivateKeyHex: v.GetString("local.ecdh_private_key_hex"),
		LocalKeyExchange:       keyExchange,
		LocalPublicKeyPEM:      v.GetString("local.public_key_pem"),
		LocalECDHPublicKeyHex:  v.GetString("local.ecdh_public_key_hex"),
		MaxDataSize:            v.GetInt("max_data_size"),
		Endpoints: Endpoints{
			InitAddr:    v.GetString("endpoints.init.addr"),
			InitPort:    uint16(v.GetUint("endpoints.init.port")),
			CommandAddr: v.GetString("endpoints.command.addr"),
			CommandPort: uint16(v.GetUint("endpoints.command.port")),
			DataAddr:    v.GetString("endpoints.data.addr"),
			DataPort:    uint16(v.GetUint("endpoints.data.port")),
		},
		Timeouts: Timeouts{
			Setup:      v.GetDuration("timeouts.setup"),
			Inactivity: v.GetDuration("timeouts.inactivity"),
			Discard:    v.GetDuration("timeouts.discard"),
		},
		InitHandshakeRate:         v.GetFloat64("init_handshake.rate"),
		InitHandshakeBurst:        v.GetInt("init_handshake.burst"),
		MaxConnectionsPerListener: v.GetInt("max_connections_per_listener"),
		Debug:                     v.GetBool("debug"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseRole(s string) (ids.PeerRole, error) {
	switch strings.ToUpper(s) {
	case "SERVER":
		return ids.RoleServer, nil
	case "CLIENT", "":
		return ids.RoleClient, nil
	default:
		return 0, fmt.Errorf("config: local.role: unrecognized value %q", s)
	}
}

func parseKeyExchange(s string) (ids.KeyExchange, error) {
	switch strings.ToUpper(s) {
	case "RSA":
		return ids.KeyExchangeRSA, nil
	case "ECDH", "":
		return ids.KeyExchangeECDH, nil
	default:
		return 0, fmt.Errorf("config: local.key_exchange: unrecognized value %q", s)
	}
}

func (c Config) validate() error {
	if c.MaxDataSize <= 0 {
		return fmt.Errorf("config: max_data_size must be positive")
	}
	if c.Endpoints.CommandPort == 0 {
		return fmt.Errorf("config: endpoints.command.port must be set")
	}
	if c.Endpoints.DataPort == 0 {
		return fmt.Errorf("config: endpoints.data.port must be set")
	}
	if c.Endpoints.InitPort == 0 {
		return fmt.Errorf("config: endpoints.init.port must be set")
	}
	return nil
}
