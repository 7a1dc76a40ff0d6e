// Package export renders the outcome of a bootstrap run as a JSON report or
// a Mermaid diagram.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dusk-indust/pageboot/internal/analytics"
	"github.com/dusk-indust/pageboot/internal/bootstrap"
	"github.com/dusk-indust/pageboot/internal/plugin"
)

// RunReport is the top-level JSON export structure.
type RunReport struct {
	Page       string           `json:"page"`
	PageView   string           `json:"pageView,omitempty"`
	ExportedAt string           `json:"exportedAt"`
	Plugins    []PluginExport   `json:"plugins"`
	Progress   []ProgressExport `json:"progress,omitempty"`
	Events     []EventExport    `json:"events,omitempty"`
}

// PluginExport describes one declared plugin.
type PluginExport struct {
	Name  string `json:"name"`
	URL   string `json:"url,omitempty"`
	Stage string `json:"stage"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// ProgressExport is one step transition.
type ProgressExport struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	At      string `json:"at"`
}

// EventExport is one analytics call.
type EventExport struct {
	Kind   string `json:"kind"`
	SentAt string `json:"sentAt"`
	Detail any    `json:"detail,omitempty"`
}

// Run holds what a bootstrap run produced.
type Run struct {
	Page     string
	PageView string
	Plugins  []plugin.Status
	Progress []bootstrap.ProgressEvent
	Events   []analytics.Envelope
}

// BuildReport converts a run into a RunReport stamped with now.
func BuildReport(run Run, now time.Time) *RunReport {
	report := &RunReport{
		Page:       run.Page,
		PageView:   run.PageView,
		ExportedAt: now.UTC().Format(time.RFC3339),
		Plugins:    make([]PluginExport, 0, len(run.Plugins)),
	}

	for _, st := range run.Plugins {
		pe := PluginExport{
			Name:  st.Name,
			URL:   st.URL,
			Stage: st.Stage.String(),
			State: st.State.String(),
		}
		if st.Err != nil {
			pe.Error = st.Err.Error()
		}
		report.Plugins = append(report.Plugins, pe)
	}

	for _, ev := range run.Progress {
		report.Progress = append(report.Progress, ProgressExport{
			Step:    string(ev.Step),
			Status:  string(ev.Status),
			Message: ev.Message,
			At:      ev.At.UTC().Format(time.RFC3339Nano),
		})
	}

	for _, env := range run.Events {
		report.Events = append(report.Events, EventExport{
			Kind:   env.Kind,
			SentAt: env.SentAt.UTC().Format(time.RFC3339Nano),
			Detail: detail(env),
		})
	}
	return report
}

// detail picks the payload that matters for the envelope's kind.
func detail(env analytics.Envelope) any {
	switch env.Kind {
	case analytics.KindConversion:
		if env.Conversion != nil {
			return env.Conversion
		}
	case analytics.KindCWV:
		return env.CWV
	case analytics.KindNotFound, analytics.KindError:
		if env.Source == nil && env.Target == nil {
			return nil
		}
		return map[string]any{"source": env.Source, "target": env.Target}
	}
	return nil
}

// WriteJSON writes report as indented JSON.
func WriteJSON(w io.Writer, report *RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("export: encode report: %w", err)
	}
	return nil
}
