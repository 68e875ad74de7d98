package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Assessment and proctor settings apply to sessions started after the
// reload. Changes to any other section need a restart.
type ConfigDiff struct {
	LogLevelChanged   bool
	NewLogLevel       LogLevel
	AssessmentChanged bool
	ProctorChanged    bool

	// RestartRequired lists the sections whose changes are ignored until
	// the process restarts, e.g. "providers" or "sessions".
	RestartRequired []string
}

// Reloadable reports whether d carries any change that can be applied live.
func (d ConfigDiff) Reloadable() bool {
	return d.LogLevelChanged || d.AssessmentChanged || d.ProctorChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.AssessmentChanged = !reflect.DeepEqual(old.Assessment, new.Assessment)
	d.ProctorChanged = !reflect.DeepEqual(old.Proctor, new.Proctor)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldServer.ReloadInterval, newServer.ReloadInterval = 0, 0
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Evaluation != new.Evaluation {
		d.RestartRequired = append(d.RestartRequired, "evaluation")
	}
	if old.Results != new.Results {
		d.RestartRequired = append(d.RestartRequired, "results")
	}
	if old.Sessions != new.Sessions {
		d.RestartRequired = append(d.RestartRequired, "sessions")
	}
	return d
}
