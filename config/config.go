package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ServerIP   = "127.0.0.1"
	ServerPort = 8000

	// MaxDatagramSize is the largest UDP payload deliverable over IPv4.
	MaxDatagramSize = 65507
	minBufferSize   = 64
)

// Config holds every tunable of the reliable UDP stack and the programs built on it.
type Config struct {
	ServerIP   string `yaml:"server_ip"`
	ServerPort int    `yaml:"server_port"`

	Timeout          time.Duration `yaml:"timeout"`           // per-attempt retransmission timeout
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // how long Dial waits for SYNACK and Accept waits for ACK
	CloseTimeout     time.Duration `yaml:"close_timeout"`     // how long Close waits for the ACK of its FIN

	LossProbability       float64 `yaml:"loss_probability"`
	CorruptionProbability float64 `yaml:"corruption_probability"`
	FaultSeed             int64   `yaml:"fault_seed"` // 0 seeds from the clock

	BufferSize      int  `yaml:"buffer_size"`       // largest frame this side sends
	PayloadPoolSize int  `yaml:"payload_pool_size"` // number of pooled receive buffers
	PoolDebug       bool `yaml:"pool_debug"`
	TTL             int  `yaml:"ttl"` // 0 keeps the system default

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the /metrics endpoint

	DialRetries        int           `yaml:"dial_retries"`
	DialInitialBackoff time.Duration `yaml:"dial_initial_backoff"`
	DialMaxBackoff     time.Duration `yaml:"dial_max_backoff"`

	DocumentRoot string `yaml:"document_root"`
	PostFile     string `yaml:"post_file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ServerIP:           ServerIP,
		ServerPort:         ServerPort,
		Timeout:            5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		CloseTimeout:       5 * time.Second,
		BufferSize:         MaxDatagramSize,
		PayloadPoolSize:    16,
		LogLevel:           "info",
		DialInitialBackoff: 500 * time.Millisecond,
		DialMaxBackoff:     5 * time.Second,
		DocumentRoot:       ".",
		PostFile:           "test.txt",
	}
}

// LoadConfig reads a YAML file on top of the defaults. A missing file is not
// an error: the defaults are returned as is.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port %d out of range", c.ServerPort)
	}
	if c.Timeout <= 0 || c.HandshakeTimeout <= 0 || c.CloseTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.LossProbability < 0 || c.LossProbability > 1 {
		return fmt.Errorf("loss_probability %v not in [0,1]", c.LossProbability)
	}
	if c.CorruptionProbability < 0 || c.CorruptionProbability > 1 {
		return fmt.Errorf("corruption_probability %v not in [0,1]", c.CorruptionProbability)
	}
	if c.BufferSize < minBufferSize || c.BufferSize > MaxDatagramSize {
		return fmt.Errorf("buffer_size %d not in [%d,%d]", c.BufferSize, minBufferSize, MaxDatagramSize)
	}
	if c.PayloadPoolSize <= 0 {
		return errors.New("payload_pool_size must be positive")
	}
	if c.TTL < 0 || c.TTL > 255 {
		return fmt.Errorf("ttl %d out of range", c.TTL)
	}
	if c.DialRetries < 0 {
		return errors.New("dial_retries must not be negative")
	}
	return nil
}

// Address is the server's host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.ServerIP, strconv.Itoa(c.ServerPort))
}
