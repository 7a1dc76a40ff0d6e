// Package plugin implements the page-view plugin registry: named plugins
// declared up front, activated per load stage behind an optional condition,
// and driven through named lifecycle hooks.
package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/dusk-indust/pageboot/internal/condition"
	"github.com/dusk-indust/pageboot/internal/page"
)

var (
	// ErrUnknownStage is returned for a stage outside eager/lazy/delayed.
	ErrUnknownStage = errors.New("plugin: unknown stage")

	// ErrNoResource is reported when a plugin has neither a URL nor an
	// inline module.
	ErrNoResource = errors.New("plugin: no resource to load")

	// ErrNoLoader is reported when a URL plugin is loaded without a Loader.
	ErrNoLoader = errors.New("plugin: no loader configured")
)

// Stage identifies a bootstrap load stage.
type Stage int

const (
	StageEager Stage = iota
	StageLazy
	StageDelayed
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageEager, StageLazy, StageDelayed}

func (s Stage) String() string {
	names := [...]string{"eager", "lazy", "delayed"}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Valid reports whether s is one of the declared stages.
func (s Stage) Valid() bool { return s >= StageEager && s <= StageDelayed }

// ParseStage maps a stage name to a Stage. The empty string means eager.
func ParseStage(name string) (Stage, error) {
	switch name {
	case "", "eager":
		return StageEager, nil
	case "lazy":
		return StageLazy, nil
	case "delayed":
		return StageDelayed, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
}

// Hook names a lifecycle function a plugin module may expose.
type Hook string

const (
	HookLoadEager   Hook = "loadEager"
	HookLoadLazy    Hook = "loadLazy"
	HookLoadDelayed Hook = "loadDelayed"
)

// Options is the opaque configuration handed to every hook.
type Options map[string]any

// HookFunc is a plugin lifecycle function.
type HookFunc func(ctx context.Context, doc *page.Document, opts Options) error

// Module is a resolved plugin. It exposes zero or more hooks by name.
type Module interface {
	Hook(name Hook) (HookFunc, bool)
}

// Hooks is a Module backed by a map.
type Hooks map[Hook]HookFunc

// Hook implements Module.
func (h Hooks) Hook(name Hook) (HookFunc, bool) {
	f, ok := h[name]
	return f, ok && f != nil
}

// Descriptor declares a plugin. Exactly one of URL or Module should be set:
// URL is resolved through the registry's Loader, Module is used inline.
type Descriptor struct {
	URL       string
	Module    Module
	Stage     Stage
	Condition condition.Func
	Options   Options
}

// State is the lifecycle position of a registered plugin.
type State int

const (
	StateRegistered State = iota
	StateInactive
	StateActive
	StateLoading
	StateLoaded
	StateLoadFailed
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateLoadFailed:
		return "load-failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateInactive || s == StateLoaded || s == StateLoadFailed
}

// Status is a point-in-time view of one plugin.
type Status struct {
	Name  string
	URL   string
	Stage Stage
	State State
	Err   error
}
