package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the vfsdemo configuration file shape, grounded on the teacher
// tooling's own toml-tagged Config struct: a CipherSuite name string
// plus the KDF cost parameters a real deployment would tune per host.
type Config struct {
	CipherSuite string       `toml:"cipher_suite"` // "aes256gcm" or "chacha20poly1305"
	Workers     int          `toml:"workers"`
	Argon2      Argon2Config `toml:"argon2"`
}

// Argon2Config mirrors boxcryptor.Argon2idParams with toml tags.
type Argon2Config struct {
	Time        uint32 `toml:"time"`
	MemoryKiB   uint32 `toml:"memory_kib"`
	Parallelism uint8  `toml:"parallelism"`
}

func defaultConfig() *Config {
	return &Config{
		CipherSuite: "chacha20poly1305",
		Workers:     4,
		Argon2: Argon2Config{
			Time:        1,
			MemoryKiB:   64 * 1024,
			Parallelism: 2,
		},
	}
}

// configPath returns the config file location, checking VFSDEMO_CONFIG_PATH
// first and falling back to ~/.config/vfsdemo.toml.
func configPath() (string, error) {
	if p := os.Getenv("VFSDEMO_CONFIG_PATH"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vfsdemo.toml"), nil
}

// readConfig loads the config file, falling back to defaults if it does not
// exist yet.
func readConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}

// writeConfig renders cfg to path, creating parent directories as needed.
func writeConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
