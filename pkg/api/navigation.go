package api

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// NavigationConfig controls auto-advance behaviour. A navigator copies it
// on construction; it is not changed afterwards.
type NavigationConfig struct {
	AutoAdvance               bool
	AutoAdvanceDelay          time.Duration
	AutoAdvanceTypes          []QuestionType
	RequireConfirmation       bool
	AnimationDuration         time.Duration
	SkipValidationForOptional bool
}

// AutoAdvancesType reports whether t is listed in AutoAdvanceTypes.
func (c NavigationConfig) AutoAdvancesType(t QuestionType) bool {
	return slices.Contains(c.AutoAdvanceTypes, t)
}

// Clone returns a copy whose slice does not alias c.
func (c NavigationConfig) Clone() NavigationConfig {
	c.AutoAdvanceTypes = slices.Clone(c.AutoAdvanceTypes)
	return c
}

// Preset names.
const (
	PresetConservative = "conservative"
	PresetStandard     = "standard"
	PresetFast         = "fast"
	PresetClinical     = "clinical"
	PresetHealth       = "health"
)

var presets = map[string]NavigationConfig{
	PresetConservative: {
		AutoAdvance:               false,
		AutoAdvanceDelay:          0,
		AutoAdvanceTypes:          nil,
		RequireConfirmation:       true,
		AnimationDuration:         300 * time.Millisecond,
		SkipValidationForOptional: false,
	},
	PresetStandard: {
		AutoAdvance:               true,
		AutoAdvanceDelay:          1500 * time.Millisecond,
		AutoAdvanceTypes:          []QuestionType{TypeSelect, TypeBoolean, TypeScale},
		RequireConfirmation:       false,
		AnimationDuration:         300 * time.Millisecond,
		SkipValidationForOptional: true,
	},
	PresetFast: {
		AutoAdvance:               true,
		AutoAdvanceDelay:          800 * time.Millisecond,
		AutoAdvanceTypes:          []QuestionType{TypeSelect, TypeBoolean, TypeScale},
		RequireConfirmation:       false,
		AnimationDuration:         150 * time.Millisecond,
		SkipValidationForOptional: true,
	},
	PresetClinical: {
		AutoAdvance:               true,
		AutoAdvanceDelay:          2500 * time.Millisecond,
		AutoAdvanceTypes:          []QuestionType{TypeScale},
		RequireConfirmation:       true,
		AnimationDuration:         400 * time.Millisecond,
		SkipValidationForOptional: false,
	},
	PresetHealth: {
		AutoAdvance:               true,
		AutoAdvanceDelay:          1800 * time.Millisecond,
		AutoAdvanceTypes:          []QuestionType{TypeSelect, TypeBoolean, TypeScale},
		RequireConfirmation:       false,
		AnimationDuration:         300 * time.Millisecond,
		SkipValidationForOptional: true,
	},
}

// Preset returns the named navigation preset.
func Preset(name string) (NavigationConfig, error) {
	cfg, ok := presets[name]
	if !ok {
		return NavigationConfig{}, fmt.Errorf("unknown navigation preset: %q", name)
	}
	return cfg.Clone(), nil
}

// MustPreset is like Preset but panics on an unknown name.
func MustPreset(name string) NavigationConfig {
	cfg, err := Preset(name)
	if err != nil {
		panic(err)
	}
	return cfg
}

// PresetNames lists the known presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NavigationState is a read-only projection of a navigator for UI use.
type NavigationState struct {
	IsNavigating          bool
	WillAutoAdvance       bool
	HasPendingAutoAdvance bool
	CanNavigateNext       bool
	CanNavigatePrevious   bool
	HasResponse           bool
	IsHighRisk            bool
}

// Direction of a completed navigation.
type Direction string

const (
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
)
