package config

import (
	"fmt"
	"strings"

	"github.com/rpattn/featuremart/internal/db"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration for the feature mart.
type Config struct {
	Server    ServerConfig
	Database  db.Config
	Warehouse WarehouseConfig
	Pipeline  PipelineConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string
	Port int
}

// WarehouseConfig names the schema the sink appends into.
type WarehouseConfig struct {
	Dataset string
}

// PipelineConfig holds behavioural toggles for the pipeline itself.
type PipelineConfig struct {
	// StrictReferences rejects whole messages containing detail rows
	// whose ancestors are missing. When false those rows keep null
	// features instead.
	StrictReferences bool
}

// DefaultConfig returns the configuration used when no config.yaml or
// environment overrides are present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: db.DefaultConfig(),
		Warehouse: WarehouseConfig{
			Dataset: "ecommerce_dw",
		},
		Pipeline: PipelineConfig{
			StrictReferences: false,
		},
	}
}

// Load reads config.yaml from configPath and applies environment
// overrides. Env vars are prefixed FEATUREMART, e.g. FEATUREMART_DATABASE_HOST.
func Load(configPath string) (Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv() // allow environment overrides
	v.SetEnvPrefix("FEATUREMART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Map nested keys to flat env vars
	v.BindEnv("server.host")
	v.BindEnv("server.port")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("warehouse.dataset")
	v.BindEnv("pipeline.strict_references")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	// Override defaults if values exist
	if v.IsSet("server.host") {
		cfg.Server.Host = v.GetString("server.host")
	}
	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("warehouse.dataset") {
		cfg.Warehouse.Dataset = v.GetString("warehouse.dataset")
	}
	if v.IsSet("pipeline.strict_references") {
		cfg.Pipeline.StrictReferences = v.GetBool("pipeline.strict_references")
	}

	if cfg.Warehouse.Dataset == "" {
		return cfg, fmt.Errorf("warehouse.dataset must not be empty")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return cfg, fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}

	return cfg, nil
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
