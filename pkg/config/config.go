package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Quota    QuotaConfig
	RAG      RAGConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

type UpstreamConfig struct {
	URL              string
	APIKey           string
	Model            string
	HandshakeTimeout int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type QuotaConfig struct {
	DefaultLimit int
}

type RAGConfig struct {
	TopK        int
	CacheTTLSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/voice-relay")

	viper.SetEnvPrefix("VOICE_RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)

	viper.SetDefault("upstream.url", "wss://api.openai.com/v1/realtime")
	viper.SetDefault("upstream.model", "gpt-4o-realtime-preview-2024-10-01")
	viper.SetDefault("upstream.handshakeTimeout", 15)

	viper.SetDefault("sqlite.path", "./data/voicerelay.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("quota.defaultLimit", 300)

	viper.SetDefault("rag.topK", 3)
	viper.SetDefault("rag.cacheTTLSec", 300)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
