// Package config loads server configuration from a YAML file with APP_*
// environment overrides (APP_HTTP_ADDR overrides http.addr).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tyranno/nanumpay-sub001/internal/calculator"
	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/scheduler"
)

type Config struct {
	App struct {
		Env      string
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Database struct {
		Path string
	} `mapstructure:"database"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Auth struct {
		// JWTSecret enables bearer authentication on /v1 when set.
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`

	Payout Payout `mapstructure:"payout"`
}

// Payout holds the payout rules. Grade-keyed maps use grade labels (F1..F8).
type Payout struct {
	Unit              int64
	Installments      int
	WithholdingRate   float64 `mapstructure:"withholding_rate"`
	GraceDays         int     `mapstructure:"grace_days"`
	Workers           int
	Ratios            []float64
	InsuranceMinimums map[string]int64 `mapstructure:"insurance_minimums"`
	MaxGenerations    map[string]int   `mapstructure:"max_generations"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("database.path", "./data/payouts.db")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("auth.jwt_secret", "")

	def := scheduler.DefaultConfig()
	v.SetDefault("payout.unit", def.Waterfall.Unit)
	v.SetDefault("payout.installments", def.Split.Count)
	v.SetDefault("payout.withholding_rate", def.Split.WithholdingRate)
	v.SetDefault("payout.grace_days", int(def.GraceWindow/(24*time.Hour)))
	v.SetDefault("payout.workers", def.Workers)
	v.SetDefault("payout.ratios", def.Waterfall.Ratios[:])

	minimums := make(map[string]any, len(def.InsuranceMinimums))
	for g, amount := range def.InsuranceMinimums {
		minimums[g.String()] = amount
	}
	v.SetDefault("payout.insurance_minimums", minimums)

	generations := make(map[string]any, len(def.MaxGenerations))
	for g, n := range def.MaxGenerations {
		generations[g.String()] = n
	}
	v.SetDefault("payout.max_generations", generations)
}

// Load reads path (if it exists) over the built-in defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return c, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// Scheduler converts the payout rules into a scheduler configuration.
func (p Payout) Scheduler() (scheduler.Config, error) {
	cfg := scheduler.DefaultConfig()

	if len(p.Ratios) != models.NumGrades {
		return cfg, fmt.Errorf("payout.ratios: want %d values, got %d", models.NumGrades, len(p.Ratios))
	}
	var ratios calculator.Ratios
	copy(ratios[:], p.Ratios)
	cfg.Waterfall = calculator.Waterfall{Ratios: ratios, Unit: p.Unit}
	cfg.Split = calculator.InstallmentSplit{Count: p.Installments, Unit: p.Unit, WithholdingRate: p.WithholdingRate}
	if err := cfg.Split.Validate(); err != nil {
		return cfg, fmt.Errorf("payout: %w", err)
	}

	if p.GraceDays < 0 {
		return cfg, fmt.Errorf("payout.grace_days: must not be negative, got %d", p.GraceDays)
	}
	cfg.GraceWindow = time.Duration(p.GraceDays) * 24 * time.Hour
	cfg.Workers = p.Workers

	cfg.InsuranceMinimums = make(map[models.Grade]int64, len(p.InsuranceMinimums))
	for label, amount := range p.InsuranceMinimums {
		g, err := models.ParseGrade(label)
		if err != nil {
			return cfg, fmt.Errorf("payout.insurance_minimums: %w", err)
		}
		cfg.InsuranceMinimums[g] = amount
	}

	cfg.MaxGenerations = make(map[models.Grade]int, len(p.MaxGenerations))
	for label, n := range p.MaxGenerations {
		g, err := models.ParseGrade(label)
		if err != nil {
			return cfg, fmt.Errorf("payout.max_generations: %w", err)
		}
		if n < 1 {
			return cfg, fmt.Errorf("payout.max_generations.%s: must be at least 1, got %d", label, n)
		}
		cfg.MaxGenerations[g] = n
	}
	return cfg, nil
}
