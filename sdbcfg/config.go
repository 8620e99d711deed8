// Package sdbcfg loads and persists engine configuration: the option
// table of spec §6 (page size, cache size, journaling, write concern,
// transaction limits, read-only/strict-mode flags, encryption). Layering
// follows the corpus's CLI-config precedence: defaults, then an
// optional HuJSON file, then explicit overrides supplied by the caller.
package sdbcfg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// WriteConcern controls how aggressively a commit flushes to disk
// (spec §4.5).
type WriteConcern int

const (
	// None issues no fsync at commit and leaves committed pages in the
	// page cache; fastest, least durable.
	None WriteConcern = iota
	// Journaled fsyncs the WAL on every commit but not the data file.
	Journaled
	// Synced fsyncs both the WAL and data file on every commit.
	Synced
)

func (w WriteConcern) String() string {
	switch w {
	case None:
		return "none"
	case Journaled:
		return "journaled"
	case Synced:
		return "synced"
	default:
		return fmt.Sprintf("WriteConcern(%d)", int(w))
	}
}

// MarshalJSON renders WriteConcern as its lowercase name so config
// files stay human-editable.
func (w WriteConcern) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// UnmarshalJSON accepts the lowercase names produced by MarshalJSON.
func (w *WriteConcern) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "none", "":
		*w = None
	case "journaled":
		*w = Journaled
	case "synced":
		*w = Synced
	default:
		return fmt.Errorf("sdbcfg: unknown write_concern %q", s)
	}
	return nil
}

// Config mirrors spec §6's external configuration table. Every field
// has a matching HuJSON key and a default supplied by Defaults.
type Config struct {
	PageSize       int          `json:"page_size"`
	CacheSize      int          `json:"cache_size"`
	EnableJournal  bool         `json:"enable_journaling"`
	WriteConcern   WriteConcern `json:"write_concern"`
	MaxTxns        int          `json:"max_transactions"`
	TxnTimeoutSecs int          `json:"transaction_timeout"`
	MaxTxnSize     int          `json:"max_transaction_size"`
	ReadOnly       bool         `json:"read_only"`
	StrictMode     bool         `json:"strict_mode"`
	EnableEncrypt  bool         `json:"enable_encryption,omitempty"`
	EncryptionKey  []byte       `json:"encryption_key,omitempty"`
}

// Defaults returns the configuration used when no file or override
// supplies a value.
func Defaults() Config {
	return Config{
		PageSize:       4096,
		CacheSize:      4096,
		EnableJournal:  true,
		WriteConcern:   Journaled,
		MaxTxns:        64,
		TxnTimeoutSecs: 30,
		MaxTxnSize:     10000,
		ReadOnly:       false,
		StrictMode:     false,
		EnableEncrypt:  false,
	}
}

// Load resolves configuration with precedence defaults → file (if
// path is non-empty and exists) → overrides. overrides is applied
// field-by-field: a zero-valued field in overrides means "inherit",
// mirroring the corpus's merge-by-zero-value convention. Pass a
// pointer to the fields the caller actually wants to override; nil
// entries are skipped.
func Load(path string, overrides *Overrides) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			fileCfg, perr := parseConfig(data)
			if perr != nil {
				return Config{}, fmt.Errorf("sdbcfg: parsing %s: %w", path, perr)
			}
			cfg = fileCfg
		case os.IsNotExist(err):
			// Optional file; defaults stand.
		default:
			return Config{}, fmt.Errorf("sdbcfg: reading %s: %w", path, err)
		}
	}

	if overrides != nil {
		overrides.apply(&cfg)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid HuJSON: %w", err)
	}
	cfg := Defaults()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

// Overrides holds explicit, caller-supplied values that win over both
// defaults and the config file. A nil field means "don't override".
type Overrides struct {
	PageSize       *int
	CacheSize      *int
	EnableJournal  *bool
	WriteConcern   *WriteConcern
	MaxTxns        *int
	TxnTimeoutSecs *int
	MaxTxnSize     *int
	ReadOnly       *bool
	StrictMode     *bool
	EnableEncrypt  *bool
	EncryptionKey  []byte
}

func (o *Overrides) apply(cfg *Config) {
	if o.PageSize != nil {
		cfg.PageSize = *o.PageSize
	}
	if o.CacheSize != nil {
		cfg.CacheSize = *o.CacheSize
	}
	if o.EnableJournal != nil {
		cfg.EnableJournal = *o.EnableJournal
	}
	if o.WriteConcern != nil {
		cfg.WriteConcern = *o.WriteConcern
	}
	if o.MaxTxns != nil {
		cfg.MaxTxns = *o.MaxTxns
	}
	if o.TxnTimeoutSecs != nil {
		cfg.TxnTimeoutSecs = *o.TxnTimeoutSecs
	}
	if o.MaxTxnSize != nil {
		cfg.MaxTxnSize = *o.MaxTxnSize
	}
	if o.ReadOnly != nil {
		cfg.ReadOnly = *o.ReadOnly
	}
	if o.StrictMode != nil {
		cfg.StrictMode = *o.StrictMode
	}
	if o.EnableEncrypt != nil {
		cfg.EnableEncrypt = *o.EnableEncrypt
	}
	if o.EncryptionKey != nil {
		cfg.EncryptionKey = o.EncryptionKey
	}
}

// Validate checks the invariants spec §6 implies: page_size a power
// of two ≥4096, and an encryption key of at least 16 bytes whenever
// encryption is enabled.
func Validate(cfg Config) error {
	if cfg.PageSize < 4096 || cfg.PageSize&(cfg.PageSize-1) != 0 {
		return fmt.Errorf("sdbcfg: page_size must be a power of two >= 4096, got %d", cfg.PageSize)
	}
	if cfg.CacheSize <= 0 {
		return fmt.Errorf("sdbcfg: cache_size must be positive, got %d", cfg.CacheSize)
	}
	if cfg.MaxTxns <= 0 {
		return fmt.Errorf("sdbcfg: max_transactions must be positive, got %d", cfg.MaxTxns)
	}
	if cfg.TxnTimeoutSecs <= 0 {
		return fmt.Errorf("sdbcfg: transaction_timeout must be positive, got %d", cfg.TxnTimeoutSecs)
	}
	if cfg.EnableEncrypt && len(cfg.EncryptionKey) < 16 {
		return fmt.Errorf("sdbcfg: encryption_key must be at least 16 bytes when enable_encryption is set, got %d", len(cfg.EncryptionKey))
	}
	return nil
}

// Save persists cfg to path as indented HuJSON, atomically: it writes
// to a temp file in the same directory and renames over path, so a
// crash mid-write never corrupts a previously valid config file. This
// is independent of — and outside of — the database's own WAL.
func Save(path string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("sdbcfg: encoding config: %w", err)
	}
	data = append(data, '\n')
	return atomic.WriteFile(path, bytes.NewReader(data))
}
