package client

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/relay"
)

// RelayConfig names one relay and the capability it should be admitted
// with. An empty Capabilities list defaults to read+write.
type RelayConfig struct {
	URL           string   `yaml:"url"`
	Capabilities  []string `yaml:"capabilities,omitempty"`
	ReconnectOff  bool     `yaml:"reconnect_off,omitempty"`
	AutoAuthOff   bool     `yaml:"auto_auth_off,omitempty"`
}

// Config describes everything a Client needs to stand up a pool and
// gossip overlay: which key to sign with, which relays to start from,
// and the storage backend to persist into.
type Config struct {
	// PrivateKeyHex is a 32-byte secp256k1 key, hex-encoded. Empty means
	// generate an ephemeral key for the life of the process.
	PrivateKeyHex string `yaml:"private_key_hex,omitempty"`

	Relays []RelayConfig `yaml:"relays"`

	// Store selects the persistence backend: "memory" (default) or
	// "sqlite", in which case StorePath names the database file.
	Store     string `yaml:"store,omitempty"`
	StorePath string `yaml:"store_path,omitempty"`

	// GossipSeedRelays seeds gossip.Overlay's fallback set when a
	// pubkey's own NIP-65 list is not yet known.
	GossipSeedRelays []string `yaml:"gossip_seed_relays,omitempty"`
	// GossipPerPubkeyCap bounds how many relays BreakDown routes a
	// single pubkey to. Zero uses gossip.Overlay's own default.
	GossipPerPubkeyCap int `yaml:"gossip_per_pubkey_cap,omitempty"`

	// VerifiedIDCacheTTL bounds how long a relay-verified event id is
	// trusted before a duplicate is re-verified. Zero uses a sensible
	// default applied by LoadConfig and New.
	VerifiedIDCacheTTL time.Duration `yaml:"verified_id_cache_ttl,omitempty"`
}

// LoadConfig reads and parses a YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("client: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("client: parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store == "" {
		c.Store = "memory"
	}
	if c.VerifiedIDCacheTTL == 0 {
		c.VerifiedIDCacheTTL = 10 * time.Minute
	}
	if c.GossipPerPubkeyCap == 0 {
		c.GossipPerPubkeyCap = 2
	}
}

// Signer builds the Client's signer from PrivateKeyHex, or generates an
// ephemeral one if it's empty.
func (c *Config) Signer() (*nostr.KeySigner, error) {
	if c.PrivateKeyHex == "" {
		return nostr.GenerateKeySigner()
	}
	raw, err := hex.DecodeString(c.PrivateKeyHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("client: private_key_hex must be 32 bytes of hex")
	}
	var sk [32]byte
	copy(sk[:], raw)
	return nostr.NewKeySigner(sk)
}

// Options turns an RelayConfig's capability names into relay.Options
// layered on relay.DefaultOptions.
func (rc RelayConfig) Options() relay.Options {
	opts := relay.DefaultOptions()
	if len(rc.Capabilities) > 0 {
		var caps relay.Capability
		for _, name := range rc.Capabilities {
			switch name {
			case "read":
				caps |= relay.Read
			case "write":
				caps |= relay.Write
			case "discovery":
				caps |= relay.Discovery
			case "gossip":
				caps |= relay.Gossip
			}
		}
		opts.Capabilities = caps
	}
	if rc.ReconnectOff {
		opts.ReconnectEnabled = false
	}
	if rc.AutoAuthOff {
		opts.AutoAuth = false
	}
	return opts
}
