package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/vivavoce/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a, b := validConfig(), validConfig()
	d := config.Diff(a, b)
	if d.Reloadable() || len(d.RestartRequired) > 0 {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		check       func(config.ConfigDiff) bool
		wantRestart []string
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(d config.ConfigDiff) bool {
				return d.LogLevelChanged && d.NewLogLevel == config.LogDebug
			},
		},
		{
			name:   "assessment subjects",
			mutate: func(c *config.Config) { c.Assessment.Subjects = []string{"geography"} },
			check:  func(d config.ConfigDiff) bool { return d.AssessmentChanged && !d.ProctorChanged },
		},
		{
			name:   "proctor threshold",
			mutate: func(c *config.Config) { c.Proctor.AbsenceThreshold = time.Minute },
			check:  func(d config.ConfigDiff) bool { return d.ProctorChanged && !d.AssessmentChanged },
		},
		{
			name:        "listen address",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":1" },
			check:       func(d config.ConfigDiff) bool { return !d.Reloadable() },
			wantRestart: []string{"server"},
		},
		{
			name:        "reload interval alone",
			mutate:      func(c *config.Config) { c.Server.ReloadInterval = time.Second },
			check:       func(d config.ConfigDiff) bool { return !d.Reloadable() },
			wantRestart: nil,
		},
		{
			name: "stores and providers",
			mutate: func(c *config.Config) {
				c.Providers.LLM.Model = "other"
				c.Sessions.RedisAddr = "redis:6379"
				c.Results.PostgresDSN = "postgres://db"
				c.Evaluation.URL = "http://grader"
			},
			check:       func(d config.ConfigDiff) bool { return !d.Reloadable() },
			wantRestart: []string{"providers", "evaluation", "results", "sessions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, updated := validConfig(), validConfig()
			tt.mutate(updated)
			d := config.Diff(old, updated)
			if !tt.check(d) {
				t.Errorf("unexpected diff %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, tt.wantRestart)
			}
		})
	}
}
