package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process configuration. Every external collaborator is
// optional; an empty value disables the matching sink or surface.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DataDir    string `mapstructure:"data_dir"`

	// Provider is the mailbox provider: "google" or "microsoft". Empty
	// means not connected; sync and fetch surface a not-connected error.
	Provider string `mapstructure:"provider"`
	UserID   string `mapstructure:"user_id"`

	AuthServerURL string `mapstructure:"auth_server_url"`
	UserJWT       string `mapstructure:"user_jwt"`
	JWKSURL       string `mapstructure:"jwks_url"`

	NATSURL    string `mapstructure:"nats_url"`
	WebhookURL string `mapstructure:"webhook_url"`
	AgentURL   string `mapstructure:"agent_url"`
}

// Load reads configuration from the given file, with INTERN_* env vars
// taking precedence. A missing file yields defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("data_dir", "data")
	v.SetDefault("user_id", "me")

	v.SetEnvPrefix("INTERN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, pathErr := err.(*os.PathError)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !pathErr && !notFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
