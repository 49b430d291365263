package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level
// and the web watcher's filter lists apply live; every other changed section
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AllowedPackagesChanged bool
	SearchPatternsChanged  bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart, in schema order.
	RestartRequired []string
}

// Live reports whether d carries any change that can be applied in place.
func (d ConfigDiff) Live() bool {
	return d.LogLevelChanged || d.AllowedPackagesChanged || d.SearchPatternsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.AllowedPackagesChanged = !slices.Equal(old.Web.AllowedPackages, new.Web.AllowedPackages)
	d.SearchPatternsChanged = !slices.Equal(old.Web.SearchPatterns, new.Web.SearchPatterns) ||
		(old.Web.SearchPatterns == nil) != (new.Web.SearchPatterns == nil)

	// Compare the remaining fields with the live ones masked out.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldWeb, newWeb := old.Web, new.Web
	oldWeb.AllowedPackages, newWeb.AllowedPackages = nil, nil
	oldWeb.SearchPatterns, newWeb.SearchPatterns = nil, nil

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"user", old.User, new.User},
		{"motion", old.Motion, new.Motion},
		{"audio", old.Audio, new.Audio},
		{"web", oldWeb, newWeb},
		{"classifier", old.Classifier, new.Classifier},
		{"recommend", old.Recommend, new.Recommend},
		{"store", old.Store, new.Store},
		{"mqtt", old.MQTT, new.MQTT},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
