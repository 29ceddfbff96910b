// Package lifecycle owns data aging: TTL presets for KV writes, the
// bounded event log, the periodic sync into the graph, and the purge of
// soft-deleted contexts.
package lifecycle

import (
	"sort"
	"time"

	"ctxstore/internal/config"
	apperrors "ctxstore/internal/errors"
)

// Preset names accepted by KV-facing operations.
const (
	PresetScratchpad = "scratchpad"
	PresetSession    = "session"
	PresetCache      = "cache"
	PresetTemporary  = "temporary"
	PresetPersistent = "persistent"
)

// Presets resolves preset names to configured lifetimes. Every KV write
// goes through a resolved preset or an explicit TTL; there is no "forever".
type Presets struct {
	values map[string]time.Duration
}

// NewPresets builds the preset table from configuration.
func NewPresets(cfg config.TTLConfig) Presets {
	return Presets{values: map[string]time.Duration{
		PresetScratchpad: cfg.Scratchpad.Std(),
		PresetSession:    cfg.Session.Std(),
		PresetCache:      cfg.Cache.Std(),
		PresetTemporary:  cfg.Temporary.Std(),
		PresetPersistent: cfg.Persistent.Std(),
	}}
}

// Resolve returns the lifetime for a preset name.
func (p Presets) Resolve(name string) (time.Duration, error) {
	d, ok := p.values[name]
	if !ok {
		return 0, apperrors.NewValidationf("unknown ttl preset %q", name)
	}
	return d, nil
}

// ResolveOrExplicit picks the explicit TTL when given, else the preset,
// else the scratchpad default. Explicit TTLs must be positive.
func (p Presets) ResolveOrExplicit(preset string, explicit time.Duration) (time.Duration, error) {
	if explicit != 0 {
		if explicit < 0 {
			return 0, apperrors.NewValidation("ttl must be positive")
		}
		return explicit, nil
	}
	if preset == "" {
		preset = PresetScratchpad
	}
	return p.Resolve(preset)
}

// Names lists the known presets, sorted.
func (p Presets) Names() []string {
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
