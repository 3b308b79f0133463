package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Topics, coach
// settings and the log level apply to the running process; everything listed
// in RestartRequired only takes effect after a restart.
type ConfigDiff struct {
	TopicsChanged bool
	TopicChanges  []TopicDiff

	CoachChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed keys that cannot be hot-reloaded.
	RestartRequired []string
}

// TopicDiff describes what changed for one topic ID.
type TopicDiff struct {
	ID       string
	Added    bool
	Removed  bool
	Modified bool
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.TopicsChanged && !d.CoachChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.CoachChanged = old.Coach != new.Coach

	d.TopicChanges = diffTopics(old, new)
	d.TopicsChanged = len(d.TopicChanges) > 0
	if !d.TopicsChanged && !slices.Equal(topicOrder(old), topicOrder(new)) {
		// Same topics, new order.
		d.TopicsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server.allowed_origins")
	}
	if !sameProvider(old.Provider, new.Provider) {
		d.RestartRequired = append(d.RestartRequired, "provider")
	}
	if !slices.EqualFunc(old.Fallbacks, new.Fallbacks, sameProvider) {
		d.RestartRequired = append(d.RestartRequired, "fallbacks")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	return d
}

func diffTopics(old, new *Config) []TopicDiff {
	oldTopics := old.TopicsOrDefault()
	newTopics := new.TopicsOrDefault()

	newByID := make(map[string]int, len(newTopics))
	for i, t := range newTopics {
		newByID[t.ID] = i
	}
	oldByID := make(map[string]int, len(oldTopics))

	var changes []TopicDiff
	for _, ot := range oldTopics {
		oldByID[ot.ID] = 0
		i, ok := newByID[ot.ID]
		switch {
		case !ok:
			changes = append(changes, TopicDiff{ID: ot.ID, Removed: true})
		case newTopics[i] != ot:
			changes = append(changes, TopicDiff{ID: ot.ID, Modified: true})
		}
	}
	for _, nt := range newTopics {
		if _, ok := oldByID[nt.ID]; !ok {
			changes = append(changes, TopicDiff{ID: nt.ID, Added: true})
		}
	}
	return changes
}

func topicOrder(c *Config) []string {
	topics := c.TopicsOrDefault()
	ids := make([]string, len(topics))
	for i, t := range topics {
		ids[i] = t.ID
	}
	return ids
}

func sameProvider(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.APIKeyEnv != b.APIKeyEnv ||
		a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
