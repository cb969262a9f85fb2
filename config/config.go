package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel     string              `yaml:"log_level"`
	Election     ElectionConfig      `yaml:"election"`
	Coordinator  CoordinatorConfig   `yaml:"coordinator"`
	Ledger       LedgerConfig        `yaml:"ledger"`
	Participants []ParticipantConfig `yaml:"participants"`
	Stats        StatsConfig         `yaml:"stats"`
}

// ElectionConfig describes the static replica set: every id in
// [MinPeerID, MaxPeerID] listens on Host:BasePort+id.
type ElectionConfig struct {
	Host                string        `yaml:"host"`
	BasePort            int           `yaml:"base_port"`
	MinPeerID           uint32        `yaml:"min_peer_id"`
	MaxPeerID           uint32        `yaml:"max_peer_id"`
	ElectionTimeout     time.Duration `yaml:"election_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	TickInterval        time.Duration `yaml:"tick_interval"`
}

type CoordinatorConfig struct {
	Hotel          string        `yaml:"hotel"`
	Airline        string        `yaml:"airline"`
	Bank           string        `yaml:"bank"`
	Stats          string        `yaml:"stats"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Pause          time.Duration `yaml:"pause"`
}

type LedgerConfig struct {
	Driver     string `yaml:"driver"` // csv or sqlite
	Pending    string `yaml:"pending"`
	Processed  string `yaml:"processed"`
	Failed     string `yaml:"failed"`
	SQLitePath string `yaml:"sqlite_path"`
}

type ParticipantConfig struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	FailClient string `yaml:"fail_client"`
	DataDir    string `yaml:"data_dir"` // empty keeps the log in memory
}

type StatsConfig struct {
	Address     string `yaml:"address"`
	HTTPAddress string `yaml:"http_address"` // empty disables the status endpoints
}

// Default runs every process on one host with the well-known ports.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Election: ElectionConfig{
			Host:                "127.0.0.1",
			BasePort:            12340,
			MinPeerID:           0,
			MaxPeerID:           4,
			ElectionTimeout:     10 * time.Second,
			HealthCheckInterval: 2 * time.Second,
			TickInterval:        100 * time.Millisecond,
		},
		Coordinator: CoordinatorConfig{
			Hotel:          "127.0.0.1:9999",
			Airline:        "127.0.0.1:9998",
			Bank:           "127.0.0.1:9997",
			Stats:          "127.0.0.1:9996",
			RequestTimeout: 5 * time.Second,
			Pause:          time.Second,
		},
		Ledger: LedgerConfig{
			Driver:    "csv",
			Pending:   "./payments.csv",
			Processed: "./processed.csv",
			Failed:    "./failed.csv",
		},
		Participants: []ParticipantConfig{
			{Name: "hotel", Address: "0.0.0.0:9999"},
			{Name: "airline", Address: "0.0.0.0:9998"},
			{Name: "bank", Address: "0.0.0.0:9997"},
		},
		Stats: StatsConfig{Address: "0.0.0.0:9996", HTTPAddress: "127.0.0.1:8096"},
	}
}

// LoadConfig reads path on top of Default.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config = Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	var e = c.Election

	if e.Host == "" {
		return fmt.Errorf("election.host is required")
	}

	if e.MinPeerID > e.MaxPeerID {
		return fmt.Errorf("election.min_peer_id=%d is greater than election.max_peer_id=%d", e.MinPeerID, e.MaxPeerID)
	}

	if e.BasePort <= 0 || e.BasePort+int(e.MaxPeerID) > 65535 {
		return fmt.Errorf("election.base_port=%d does not fit peer ids up to %d", e.BasePort, e.MaxPeerID)
	}

	if e.ElectionTimeout <= 0 || e.HealthCheckInterval <= 0 || e.TickInterval <= 0 {
		return fmt.Errorf("election timings must be positive")
	}

	if e.TickInterval > e.ElectionTimeout {
		return fmt.Errorf("election.tick_interval must not exceed election.election_timeout")
	}

	var co = c.Coordinator
	if co.Hotel == "" || co.Airline == "" || co.Bank == "" {
		return fmt.Errorf("coordinator.hotel, coordinator.airline and coordinator.bank are required")
	}

	if co.RequestTimeout <= 0 {
		return fmt.Errorf("coordinator.request_timeout must be positive")
	}

	switch c.Ledger.Driver {
	case "csv":
		if c.Ledger.Processed == "" || c.Ledger.Failed == "" {
			return fmt.Errorf("ledger.processed and ledger.failed are required for the csv driver")
		}
	case "sqlite":
		if c.Ledger.SQLitePath == "" {
			return fmt.Errorf("ledger.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown ledger.driver %q", c.Ledger.Driver)
	}

	if c.Ledger.Pending == "" {
		return fmt.Errorf("ledger.pending is required")
	}

	uniqueNames := make(map[string]bool)
	for _, p := range c.Participants {
		if uniqueNames[p.Name] {
			return fmt.Errorf("duplicate participant: %s", p.Name)
		}
		uniqueNames[p.Name] = true

		if p.Address == "" {
			return fmt.Errorf("participant %s has no address", p.Name)
		}
	}

	return nil
}

// CheckReplica reports whether id belongs to the configured replica set.
func (c *Config) CheckReplica(id uint32) error {
	if id < c.Election.MinPeerID || id > c.Election.MaxPeerID {
		return fmt.Errorf("replica id %d outside [%d, %d]", id, c.Election.MinPeerID, c.Election.MaxPeerID)
	}
	return nil
}

// PeerAddresses maps every replica id to its election address.
func (c *Config) PeerAddresses() map[uint32]string {
	var res = make(map[uint32]string, c.Election.MaxPeerID-c.Election.MinPeerID+1)
	for id := c.Election.MinPeerID; id <= c.Election.MaxPeerID; id++ {
		res[id] = fmt.Sprintf("%s:%d", c.Election.Host, c.Election.BasePort+int(id))
	}
	return res
}

func (c *Config) GetParticipant(name string) (ParticipantConfig, bool) {
	for _, p := range c.Participants {
		if p.Name == name {
			return p, true
		}
	}
	return ParticipantConfig{}, false
}
