// internal/config/config.go
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all static configuration for the dispatcher process.
// It is read once at startup and never mutated afterwards; the dynamic
// parameters (queue number, pool size, primary device) come from the
// command line instead.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`

	// RequestQueuePrefix is the base name of the work channel; the queue
	// number from the command line is appended to it.
	RequestQueuePrefix string `mapstructure:"request_queue_prefix"`

	// MessageTimeout is how long callers wait on their reply channel. The
	// dispatcher itself never enforces it — it is recorded here (and in the
	// instance registry) so callers and operators agree on the value.
	MessageTimeout time.Duration `mapstructure:"message_timeout"`

	// Inference engine construction parameters.
	EngineEndpoint string        `mapstructure:"engine_endpoint"`
	ModelPath      string        `mapstructure:"model_path"`
	DeviceCount    int           `mapstructure:"device_count"`
	EngineTimeout  time.Duration `mapstructure:"engine_timeout"`

	MetricsListenAddr string `mapstructure:"metrics_listen_addr"`

	// ReconnectBackoff is the fixed sleep between resubscribe attempts
	// after a broker failure.
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`

	// EtcdEndpoints enables instance registration when non-empty.
	EtcdEndpoints []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout   time.Duration `mapstructure:"etcd_timeout"`
	RegistryTTL   time.Duration `mapstructure:"registry_ttl"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("redis_addr", "127.0.0.1:7480")
	viper.SetDefault("request_queue_prefix", "InternVL-synchronous-asynchronous-queue")
	viper.SetDefault("message_timeout", "60s")
	viper.SetDefault("engine_endpoint", "http://127.0.0.1:9050")
	viper.SetDefault("model_path", "../../LLMs/lm_model/InternVL2_5-1B")
	viper.SetDefault("device_count", 1)
	viper.SetDefault("engine_timeout", "300s")
	viper.SetDefault("metrics_listen_addr", ":9105")
	viper.SetDefault("reconnect_backoff", "20s")
	viper.SetDefault("etcd_timeout", "5s")
	viper.SetDefault("registry_ttl", "10s")

	// Set config file details
	viper.SetConfigName("config")    // name of config file (without extension)
	viper.SetConfigType("yaml")      // or "json", "toml"
	viper.AddConfigPath("./configs") // path to look for the config file in
	viper.AddConfigPath(".")         // optionally look for config in the working directory

	// Read environment variables
	viper.AutomaticEnv()

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; rely on defaults and env vars.
		} else {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
