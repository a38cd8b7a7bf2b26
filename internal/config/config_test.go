package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tyranno/nanumpay-sub001/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name         string
		path         func(t *testing.T) string
		env          map[string]string
		validateFunc func(t *testing.T, c Config)
	}{
		{
			name: "defaults without a file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.yaml") },
			validateFunc: func(t *testing.T, c Config) {
				if c.HTTP.Addr != ":8080" || c.App.Env != "dev" || !c.Metrics.Enabled {
					t.Errorf("unexpected defaults: %+v", c)
				}
				sc, err := c.Payout.Scheduler()
				if err != nil {
					t.Fatalf("Scheduler failed: %v", err)
				}
				if sc.GraceWindow != 30*24*time.Hour || sc.Split.Count != 10 || sc.Waterfall.Unit != 100 {
					t.Errorf("unexpected payout defaults: %+v", sc)
				}
				if sc.InsuranceMinimums[models.F8] != 110000 || sc.MaxGenerations[models.F1] != 2 {
					t.Errorf("grade tables not defaulted: %v %v", sc.InsuranceMinimums, sc.MaxGenerations)
				}
			},
		},
		{
			name: "file overrides",
			path: func(t *testing.T) string {
				return writeConfig(t, `
app:
  env: prod
http:
  addr: ":9090"
payout:
  grace_days: 14
  insurance_minimums:
    F4: 50000
`)
			},
			validateFunc: func(t *testing.T, c Config) {
				if c.App.Env != "prod" || c.HTTP.Addr != ":9090" {
					t.Errorf("file values not applied: %+v", c)
				}
				sc, err := c.Payout.Scheduler()
				if err != nil {
					t.Fatalf("Scheduler failed: %v", err)
				}
				if sc.GraceWindow != 14*24*time.Hour {
					t.Errorf("GraceWindow = %v, want 14 days", sc.GraceWindow)
				}
				if sc.InsuranceMinimums[models.F4] != 50000 {
					t.Errorf("F4 minimum = %d, want 50000", sc.InsuranceMinimums[models.F4])
				}
			},
		},
		{
			name: "environment wins",
			path: func(t *testing.T) string { return writeConfig(t, "http:\n  addr: \":9090\"\n") },
			env:  map[string]string{"APP_HTTP_ADDR": ":7070", "APP_DATABASE_PATH": "/tmp/x.db"},
			validateFunc: func(t *testing.T, c Config) {
				if c.HTTP.Addr != ":7070" || c.Database.Path != "/tmp/x.db" {
					t.Errorf("env not applied: addr=%s path=%s", c.HTTP.Addr, c.Database.Path)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			c, err := Load(tt.path(t))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.validateFunc(t, c)
		})
	}
}

func TestPayoutSchedulerRejectsBadRules(t *testing.T) {
	base := func() Payout {
		c, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return c.Payout
	}

	tests := []struct {
		name   string
		mutate func(p *Payout)
	}{
		{name: "short ratios", mutate: func(p *Payout) { p.Ratios = p.Ratios[:3] }},
		{name: "zero installments", mutate: func(p *Payout) { p.Installments = 0 }},
		{name: "negative grace", mutate: func(p *Payout) { p.GraceDays = -1 }},
		{name: "unknown grade", mutate: func(p *Payout) { p.InsuranceMinimums = map[string]int64{"F9": 1} }},
		{name: "zero generations", mutate: func(p *Payout) { p.MaxGenerations = map[string]int{"F1": 0} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(&p)
			if _, err := p.Scheduler(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
