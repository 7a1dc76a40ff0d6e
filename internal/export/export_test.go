package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dusk-indust/pageboot/internal/analytics"
	"github.com/dusk-indust/pageboot/internal/bootstrap"
	"github.com/dusk-indust/pageboot/internal/conversion"
	"github.com/dusk-indust/pageboot/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRun() Run {
	return Run{
		Page:     "index.html",
		PageView: "pv-1",
		Plugins: []plugin.Status{
			{Name: "experimentation", URL: "/plugins/experimentation/src/index.js", Stage: plugin.StageEager, State: plugin.StateInactive},
			{Name: "rum-conversion", URL: "/plugins/rum-conversion/src/index.js", Stage: plugin.StageLazy, State: plugin.StateLoaded},
			{Name: "late", URL: "/plugins/late.js", Stage: plugin.StageDelayed, State: plugin.StateLoadFailed, Err: errors.New("boom")},
		},
		Progress: []bootstrap.ProgressEvent{
			{Step: bootstrap.StepEager, Status: bootstrap.ProgressWorking, At: at},
			{Step: bootstrap.StepEager, Status: bootstrap.ProgressComplete, At: at.Add(time.Millisecond)},
		},
		Events: []analytics.Envelope{
			{Kind: analytics.KindConversion, SentAt: at, Conversion: &conversion.Event{ID: "c1", Kind: conversion.KindFormComplete, Source: "newsletter", Target: "/subscribe"}},
			{Kind: analytics.KindCWV, SentAt: at, CWV: map[string]float64{"LCP": 1200}},
			{Kind: analytics.KindNotFound, SentAt: at, Source: "/missing"},
			{Kind: analytics.KindError, SentAt: at},
		},
	}
}

func TestBuildReport(t *testing.T) {
	report := BuildReport(sampleRun(), at)

	assert.Equal(t, "index.html", report.Page)
	assert.Equal(t, "2026-03-01T12:00:00Z", report.ExportedAt)

	require.Len(t, report.Plugins, 3)
	assert.Equal(t, PluginExport{Name: "experimentation", URL: "/plugins/experimentation/src/index.js", Stage: "eager", State: "inactive"}, report.Plugins[0])
	assert.Equal(t, "load-failed", report.Plugins[2].State)
	assert.Equal(t, "boom", report.Plugins[2].Error)

	require.Len(t, report.Progress, 2)
	assert.Equal(t, "eager", report.Progress[1].Step)
	assert.Equal(t, "complete", report.Progress[1].Status)
	assert.Equal(t, "2026-03-01T12:00:00.001Z", report.Progress[1].At)

	require.Len(t, report.Events, 4)
	conv, ok := report.Events[0].Detail.(*conversion.Event)
	require.True(t, ok)
	assert.Equal(t, "newsletter", conv.Source)
	assert.Equal(t, map[string]float64{"LCP": 1200}, report.Events[1].Detail)
	assert.Equal(t, map[string]any{"source": "/missing", "target": nil}, report.Events[2].Detail)
	assert.Nil(t, report.Events[3].Detail)
}

func TestBuildReport_Empty(t *testing.T) {
	report := BuildReport(Run{Page: "p.html"}, at)
	assert.NotNil(t, report.Plugins)
	assert.Empty(t, report.Progress)
	assert.Empty(t, report.Events)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, report))
	assert.Contains(t, buf.String(), `"plugins": []`)
	assert.NotContains(t, buf.String(), `"events"`)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, BuildReport(sampleRun(), at)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "pv-1", decoded["pageView"])

	plugins := decoded["plugins"].([]any)
	assert.Len(t, plugins, 3)
	events := decoded["events"].([]any)
	first := events[0].(map[string]any)
	assert.Equal(t, "conversion", first["kind"])
	assert.Equal(t, "Form Complete", first["detail"].(map[string]any)["event"])
}

func TestGenerateMermaid(t *testing.T) {
	got := GenerateMermaid(BuildReport(sampleRun(), at))
	want := `graph TD
  subgraph S_eager["eager"]
    S_eager_0["experimentation<br/>inactive"]:::inactive
  end
  subgraph S_lazy["lazy"]
    S_lazy_0["rum-conversion<br/>loaded"]:::loaded
  end
  S_eager --> S_lazy
  subgraph S_delayed["delayed"]
    S_delayed_0["late<br/>load-failed"]:::failed
  end
  S_lazy --> S_delayed
  classDef loaded fill:#d4edda
  classDef failed fill:#f8d7da
  classDef inactive fill:#e2e3e5
  classDef pending fill:#fff3cd
`
	assert.Equal(t, want, got)
}

func TestGenerateMermaid_Label(t *testing.T) {
	report := &RunReport{Plugins: []PluginExport{
		{Name: `say "hi" to a plugin with a rather long name indeed`, Stage: "lazy", State: "loading"},
	}}
	got := GenerateMermaid(report)
	assert.Contains(t, got, `S_lazy_0["say #quot;hi#quot; to a plugin with a rather long <br/>loading"]:::pending`)
}
