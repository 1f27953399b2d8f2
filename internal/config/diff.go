package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ModelsChanged is true when any endpoint was added, removed, or
	// redefined, or the default model changed.
	ModelsChanged bool
	ModelChanges  []ModelDiff

	// ContinuityChanged and SynthesisChanged flag tunable updates that
	// take effect on the next turn or synthesis pass.
	ContinuityChanged bool
	SynthesisChanged  bool
}

// ModelDiff describes what changed for a single logical model.
type ModelDiff struct {
	Model   string
	Changed bool
	Added   bool
	Removed bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build endpoint lookup maps keyed by logical model name.
	oldModels := make(map[string]*ModelEndpoint, len(old.Models.Endpoints))
	for i := range old.Models.Endpoints {
		oldModels[old.Models.Endpoints[i].Model] = &old.Models.Endpoints[i]
	}
	newModels := make(map[string]*ModelEndpoint, len(new.Models.Endpoints))
	for i := range new.Models.Endpoints {
		newModels[new.Models.Endpoints[i].Model] = &new.Models.Endpoints[i]
	}

	// Detect modified and removed endpoints.
	for name, oldEP := range oldModels {
		newEP, exists := newModels[name]
		if !exists {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{Model: name, Removed: true})
			d.ModelsChanged = true
			continue
		}
		if !modelEndpointEqual(*oldEP, *newEP) {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{Model: name, Changed: true})
			d.ModelsChanged = true
		}
	}

	// Detect added endpoints.
	for name := range newModels {
		if _, exists := oldModels[name]; !exists {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{Model: name, Added: true})
			d.ModelsChanged = true
		}
	}

	if old.Models.Default != new.Models.Default {
		d.ModelsChanged = true
	}

	if old.Continuity != new.Continuity {
		d.ContinuityChanged = true
	}
	if old.Synthesis != new.Synthesis {
		d.SynthesisChanged = true
	}

	return d
}

// modelEndpointEqual compares one logical endpoint's full definition,
// fallback chain included.
func modelEndpointEqual(a, b ModelEndpoint) bool {
	if !providerEntryEqual(a.Provider, b.Provider) {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !providerEntryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

// providerEntryEqual compares two provider entries including their free-form
// Options maps.
func providerEntryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
