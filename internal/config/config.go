// Package config loads server and strategy configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// Strategy holds the plain-number strategy defaults from the config file;
// ToParams converts them into engine parameters.
type Strategy struct {
	LowIBS          float64 `mapstructure:"lowIbs"`
	HighIBS         float64 `mapstructure:"highIbs"`
	MaxHoldDays     int     `mapstructure:"maxHoldDays"`
	CapitalUsagePct float64 `mapstructure:"capitalUsagePct"`
	Leverage        float64 `mapstructure:"leverage"`
	CommissionType  string  `mapstructure:"commissionType"`
	CommissionFixed float64 `mapstructure:"commissionFixed"`
	CommissionRate  float64 `mapstructure:"commissionRate"`
}

// Options holds the options overlay defaults.
type Options struct {
	StrikePct       float64 `mapstructure:"strikePct"`
	VolAdjPct       float64 `mapstructure:"volAdjPct"`
	CapitalPct      float64 `mapstructure:"capitalPct"`
	RiskFreeRate    float64 `mapstructure:"riskFreeRate"`
	ExpirationWeeks int     `mapstructure:"expirationWeeks"`
	MaxHoldingDays  int     `mapstructure:"maxHoldingDays"`
}

// Config is the full application configuration.
type Config struct {
	Server struct {
		Host          string        `mapstructure:"host"`
		Port          int           `mapstructure:"port"`
		WebSocketPath string        `mapstructure:"websocketPath"`
		ReadTimeout   time.Duration `mapstructure:"readTimeout"`
		WriteTimeout  time.Duration `mapstructure:"writeTimeout"`
		EnableMetrics bool          `mapstructure:"enableMetrics"`
	} `mapstructure:"server"`
	Data struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"data"`
	InitialCapital float64  `mapstructure:"initialCapital"`
	Strategy       Strategy `mapstructure:"strategy"`
	Options        Options  `mapstructure:"options"`
}

// Load reads the configuration file at path (optional) on top of defaults.
// Environment variables prefixed IBS_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocketPath", "/ws")
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)
	v.SetDefault("server.enableMetrics", true)
	v.SetDefault("data.dir", "./data")
	v.SetDefault("initialCapital", 10000)
	v.SetDefault("strategy.lowIbs", 0.2)
	v.SetDefault("strategy.highIbs", 0.8)
	v.SetDefault("strategy.maxHoldDays", 5)
	v.SetDefault("strategy.capitalUsagePct", 100)
	v.SetDefault("strategy.leverage", 1)
	v.SetDefault("strategy.commissionType", "fixed")
	v.SetDefault("options.strikePct", 0)
	v.SetDefault("options.volAdjPct", 0)
	v.SetDefault("options.capitalPct", 10)
	v.SetDefault("options.riskFreeRate", 0.05)
	v.SetDefault("options.expirationWeeks", 4)
	v.SetDefault("options.maxHoldingDays", 30)

	v.SetEnvPrefix("IBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// ServerConfig converts the server section into the shared type.
func (c *Config) ServerConfig() *types.ServerConfig {
	return &types.ServerConfig{
		Host:          c.Server.Host,
		Port:          c.Server.Port,
		WebSocketPath: c.Server.WebSocketPath,
		ReadTimeout:   c.Server.ReadTimeout,
		WriteTimeout:  c.Server.WriteTimeout,
		EnableMetrics: c.Server.EnableMetrics,
	}
}

// ToParams converts the strategy section into engine parameters.
func (s Strategy) ToParams() types.StrategyParams {
	params := types.StrategyParams{
		LowIBS:          s.LowIBS,
		HighIBS:         s.HighIBS,
		MaxHoldDays:     s.MaxHoldDays,
		CapitalUsagePct: s.CapitalUsagePct,
		Leverage:        s.Leverage,
		Commission:      commissionModel(s),
	}
	params.Normalize()
	return params
}

func commissionModel(s Strategy) types.CommissionModel {
	model := types.CommissionModel{Type: types.CommissionType(s.CommissionType)}
	if s.CommissionFixed != 0 {
		model.Amount = decimal.NewFromFloat(s.CommissionFixed)
	}
	if s.CommissionRate != 0 {
		model.Rate = decimal.NewFromFloat(s.CommissionRate)
	}
	return model
}

// ToParams converts the options section into overlay parameters.
func (o Options) ToParams() types.OptionsParams {
	params := types.OptionsParams{
		StrikePct:       o.StrikePct,
		VolAdjPct:       o.VolAdjPct,
		CapitalPct:      o.CapitalPct,
		RiskFreeRate:    o.RiskFreeRate,
		ExpirationWeeks: o.ExpirationWeeks,
		MaxHoldingDays:  o.MaxHoldingDays,
	}
	params.Normalize()
	return params
}
