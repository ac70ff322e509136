package dmdb

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Config.Validate.
const (
	DefaultChunkSize       = 4096
	DefaultFloatPrecision  = 53
	DefaultIdentCurrentSQL = "SELECT IDENT_CURRENT('%s')"
	DefaultLastInsertIDSQL = "SELECT SCOPE_IDENTITY()"

	minChunkSize = 16
)

// DefaultConnLostCodes is used when Config.ConnLostCodes is empty. -70019
// is the DM client's "network connection lost" code.
var DefaultConnLostCodes = []int32{-70019}

// Config holds connection parameters.
type Config struct {
	Server   string `yaml:"server"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Native names the registered native interface used by Open and the
	// driver package.
	Native string `yaml:"native"`

	Charset Charset `yaml:"charset"`
	// ChunkSize is the buffer size for reading variable length columns.
	ChunkSize int `yaml:"chunk_size"`

	// FloatPrecision and FloatScale are passed when binding Float
	// parameters.
	FloatPrecision uint64 `yaml:"float_precision"`
	FloatScale     int16  `yaml:"float_scale"`

	// IdentCurrentSQL is a format string receiving the quoted table name.
	IdentCurrentSQL string `yaml:"ident_current_sql"`
	LastInsertIDSQL string `yaml:"last_insert_id_sql"`

	// ConnLostCodes lists native diagnostic codes that mean the session is
	// gone, so statement failures carrying them are reported as
	// KindConnection. Empty means DefaultConnLostCodes.
	ConnLostCodes []int32 `yaml:"conn_lost_codes"`

	Logger *slog.Logger `yaml:"-"`
}

// Validate fills in defaults and rejects unusable settings.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("dmdb: config: server is required")
	}
	cs, err := ParseCharset(string(c.Charset))
	if err != nil {
		return err
	}
	c.Charset = cs
	switch {
	case c.ChunkSize == 0:
		c.ChunkSize = DefaultChunkSize
	case c.ChunkSize < minChunkSize:
		return fmt.Errorf("dmdb: config: chunk_size %d is below %d", c.ChunkSize, minChunkSize)
	}
	if c.FloatPrecision == 0 {
		c.FloatPrecision = DefaultFloatPrecision
	}
	if c.FloatScale < 0 {
		return fmt.Errorf("dmdb: config: negative float_scale %d", c.FloatScale)
	}
	if c.IdentCurrentSQL == "" {
		c.IdentCurrentSQL = DefaultIdentCurrentSQL
	}
	if c.LastInsertIDSQL == "" {
		c.LastInsertIDSQL = DefaultLastInsertIDSQL
	}
	if len(c.ConnLostCodes) == 0 {
		c.ConnLostCodes = slices.Clone(DefaultConnLostCodes)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// LoadConfig reads a YAML config file. Environment variables in the form
// $VAR or ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("dmdb: load config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return cfg, fmt.Errorf("dmdb: parse config %s: %w", path, err)
	}
	return cfg, nil
}
