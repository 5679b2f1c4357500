// Package config loads server settings from an optional TOML file with
// TASKIE_* environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/dukerupert/taskie/internal/media"
)

// Config is the complete server configuration.
type Config struct {
	Port      string `toml:"port"`
	DBPath    string `toml:"db_path"`
	BaseURL   string `toml:"base_url"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// SecureCookies marks the session cookie Secure.
	SecureCookies bool `toml:"secure_cookies"`

	S3     S3     `toml:"s3"`
	Push   Push   `toml:"push"`
	Backup Backup `toml:"backup"`
}

// S3 configures chore photo storage.
type S3 struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	PublicURL string `toml:"public_url"`
}

// Media converts the settings to the media package's form.
func (s S3) Media() media.S3Config {
	return media.S3Config{
		Endpoint:  s.Endpoint,
		Bucket:    s.Bucket,
		Region:    s.Region,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		PublicURL: s.PublicURL,
	}
}

// Push configures web push. Push is disabled unless both keys are set.
type Push struct {
	VAPIDPublicKey  string `toml:"vapid_public_key"`
	VAPIDPrivateKey string `toml:"vapid_private_key"`
	Subscriber      string `toml:"subscriber"`
}

// Backup configures encrypted database snapshots. Snapshots go to the S3
// bucket unless Bucket overrides it.
type Backup struct {
	Bucket     string `toml:"bucket"`
	Passphrase string `toml:"passphrase"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:      "8080",
		DBPath:    "taskie.db",
		LogLevel:  "info",
		LogFormat: "text",
		S3: S3{
			Region: "us-east-1",
		},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	return cfg, nil
}

// Parse decodes TOML data into cfg, leaving unset keys untouched.
func Parse(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parse config: unknown key %q", undecoded[0].String())
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"TASKIE_PORT", &cfg.Port},
		{"TASKIE_DB_PATH", &cfg.DBPath},
		{"TASKIE_BASE_URL", &cfg.BaseURL},
		{"TASKIE_LOG_LEVEL", &cfg.LogLevel},
		{"TASKIE_LOG_FORMAT", &cfg.LogFormat},
		{"TASKIE_S3_ENDPOINT", &cfg.S3.Endpoint},
		{"TASKIE_S3_BUCKET", &cfg.S3.Bucket},
		{"TASKIE_S3_REGION", &cfg.S3.Region},
		{"TASKIE_S3_ACCESS_KEY", &cfg.S3.AccessKey},
		{"TASKIE_S3_SECRET_KEY", &cfg.S3.SecretKey},
		{"TASKIE_S3_PUBLIC_URL", &cfg.S3.PublicURL},
		{"TASKIE_VAPID_PUBLIC_KEY", &cfg.Push.VAPIDPublicKey},
		{"TASKIE_VAPID_PRIVATE_KEY", &cfg.Push.VAPIDPrivateKey},
		{"TASKIE_PUSH_SUBSCRIBER", &cfg.Push.Subscriber},
		{"TASKIE_BACKUP_BUCKET", &cfg.Backup.Bucket},
		{"TASKIE_BACKUP_PASSPHRASE", &cfg.Backup.Passphrase},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	if v, ok := lookup("TASKIE_SECURE_COOKIES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TASKIE_SECURE_COOKIES: %w", err)
		}
		cfg.SecureCookies = b
	}
	return nil
}
