package builtin

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/dusk-indust/pageboot/internal/config"
	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/dusk-indust/pageboot/internal/plugin"
	"github.com/dusk-indust/pageboot/internal/rum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const experimentPage = `<html><head>
<meta name="experiment" content="hero-test">
<meta name="experiment-variants" content="challenger-1, challenger-2">
<meta name="campaign-spring" content="/spring">
<meta name="campaign-summer" content="/summer">
</head><body><main><div><h1>Hi</h1></div></main></body></html>`

func parse(t *testing.T, s string) *page.Document {
	t.Helper()
	doc, err := page.ParseString(s)
	require.NoError(t, err)
	return doc
}

func env(t *testing.T, raw string, width int) page.Environment {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return page.Environment{URL: u, ViewportWidth: width, Session: page.NewMemorySession()}
}

func runHook(t *testing.T, m plugin.Module, hook plugin.Hook, doc *page.Document, opts plugin.Options) error {
	t.Helper()
	fn, ok := m.Hook(hook)
	require.True(t, ok, "hook %s", hook)
	return fn(context.Background(), doc, opts)
}

func TestExperimentation_Eager(t *testing.T) {
	doc := parse(t, experimentPage)
	e := NewExperimentation(env(t, "https://preview.example.com/", 1200))

	opts := plugin.Options{
		"prodHost": "www.example.com",
		"variant":  "challenger-2",
		"audiences": map[string]any{
			"mobile":  map[string]any{"maxViewport": 599},
			"desktop": map[string]any{"minViewport": int64(600)},
			"wide":    map[string]any{"minViewport": 1000.0},
		},
	}
	require.NoError(t, runHook(t, e.Hooks(), plugin.HookLoadEager, doc, opts))

	body := doc.Body()
	assert.Equal(t, "hero-test", body.Attr("data-experiment"))
	assert.Equal(t, "challenger-2", body.Attr("data-experiment-variant"))
	assert.Equal(t, "spring,summer", body.Attr("data-campaigns"))
	assert.Equal(t, "desktop,wide", body.Attr("data-audiences"))
	assert.Equal(t, "true", body.Attr("data-experiment-preview"))
}

func TestExperimentation_EagerDefaults(t *testing.T) {
	doc := parse(t, experimentPage)
	e := NewExperimentation(env(t, "https://www.example.com/", 400))

	require.NoError(t, runHook(t, e.Hooks(), plugin.HookLoadEager, doc, plugin.Options{"prodHost": "www.example.com"}))

	body := doc.Body()
	assert.Equal(t, ControlVariant, body.Attr("data-experiment-variant"))
	assert.Empty(t, body.Attr("data-audiences"))
	_, preview := body.LookupAttr("data-experiment-preview")
	assert.False(t, preview)
}

func TestExperimentation_UnknownVariant(t *testing.T) {
	doc := parse(t, experimentPage)
	e := NewExperimentation(env(t, "https://www.example.com/", 400))

	err := runHook(t, e.Hooks(), plugin.HookLoadEager, doc, plugin.Options{"variant": "challenger-9"})
	assert.ErrorContains(t, err, "challenger-9")
	assert.Empty(t, doc.Body().Attr("data-experiment"))
}

func TestExperimentation_Rail(t *testing.T) {
	t.Run("toolbar present", func(t *testing.T) {
		doc := parse(t, `<html><body><aem-sidekick></aem-sidekick><main></main></body></html>`)
		e := NewExperimentation(page.Environment{})
		require.NoError(t, runHook(t, e.Hooks(), plugin.HookLoadLazy, doc, nil))
		require.NoError(t, runHook(t, e.Hooks(), plugin.HookLoadLazy, doc, nil))
		assert.Len(t, doc.Body().FindAll(page.ByClass("experimentation-rail")), 1)
	})

	t.Run("no toolbar", func(t *testing.T) {
		doc := parse(t, `<html><body><main></main></body></html>`)
		e := NewExperimentation(page.Environment{})
		require.NoError(t, runHook(t, e.Hooks(), plugin.HookLoadLazy, doc, nil))
		assert.Nil(t, doc.Body().Find(page.ByClass("experimentation-rail")))
	})

	t.Run("waits for signal", func(t *testing.T) {
		doc := parse(t, `<html><body><main></main></body></html>`)
		ready := make(chan struct{})
		e := NewExperimentation(page.Environment{})
		e.Sidekick = ready

		done := make(chan error, 1)
		fn, _ := e.Hooks().Hook(plugin.HookLoadLazy)
		go func() { done <- fn(context.Background(), doc, nil) }()

		select {
		case <-done:
			t.Fatal("returned before the toolbar was ready")
		case <-time.After(20 * time.Millisecond):
		}
		close(ready)
		require.NoError(t, <-done)
		assert.NotNil(t, doc.Body().Find(page.ByClass("experimentation-rail")))
	})

	t.Run("no body", func(t *testing.T) {
		doc := parse(t, `<html><body><main></main></body></html>`)
		doc.Body().Remove()
		ready := make(chan struct{})
		close(ready)
		e := NewExperimentation(page.Environment{})
		e.Sidekick = ready

		fn, _ := e.Hooks().Hook(plugin.HookLoadLazy)
		var err error
		assert.NotPanics(t, func() { err = fn(context.Background(), doc, nil) })
		assert.ErrorContains(t, err, "no body")
	})

	t.Run("cancelled", func(t *testing.T) {
		doc := parse(t, `<html><body><main></main></body></html>`)
		e := NewExperimentation(page.Environment{})
		e.Sidekick = make(chan struct{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fn, _ := e.Hooks().Hook(plugin.HookLoadLazy)
		assert.ErrorIs(t, fn(ctx, doc, nil), context.Canceled)
	})
}

const formPage = `<html><head></head><body><main>
<div class="section" data-conversion-name="newsletter"><form id="a" action="/subscribe"></form></div>
<div class="section"><form id="b"></form></div>
</main></body></html>`

func TestConversion_TracksForms(t *testing.T) {
	doc := parse(t, formPage)
	c := NewConversion(rum.New())

	require.NoError(t, runHook(t, c.Hooks(), plugin.HookLoadLazy, doc, nil))
	forms := c.Forms()
	require.Len(t, forms, 1)
	assert.Equal(t, "a", forms[0].ID())
	assert.Equal(t, "newsletter", forms[0].Attr("data-conversion-tracked"))

	// Running again does not track twice.
	require.NoError(t, runHook(t, c.Hooks(), plugin.HookLoadLazy, doc, nil))
	assert.Len(t, c.Forms(), 1)
}

func TestConversion_PageLevelName(t *testing.T) {
	doc := parse(t, `<html><head><meta name="conversion-name" content="lead"></head>
<body><main><div><form id="x"></form></div></main></body></html>`)
	c := NewConversion(rum.New())

	require.NoError(t, runHook(t, c.Hooks(), plugin.HookLoadLazy, doc, nil))
	require.Len(t, c.Forms(), 1)
	assert.Equal(t, "lead", c.Forms()[0].Attr("data-conversion-tracked"))
}

func TestConversion_Submit(t *testing.T) {
	doc := parse(t, formPage)
	d := rum.New()
	var got []rum.Data
	d.On(rum.CheckpointConvert, func(_ context.Context, data rum.Data) error {
		got = append(got, data)
		return nil
	})
	c := NewConversion(d)
	require.NoError(t, runHook(t, c.Hooks(), plugin.HookLoadLazy, doc, nil))

	require.NoError(t, c.Submit(context.Background(), c.Forms()[0], "/subscribe"))
	require.Len(t, got, 1)
	assert.Equal(t, "newsletter", got[0].Source)
	assert.Equal(t, "/subscribe", got[0].Target)
	assert.Equal(t, "form", got[0].Element.Tag())

	untracked := doc.ElementByID("b")
	assert.ErrorIs(t, c.Submit(context.Background(), untracked, nil), ErrNotTracked)
	assert.ErrorIs(t, c.Submit(context.Background(), nil, nil), ErrNotTracked)
	assert.Len(t, got, 1)
}

func TestDeclare_Defaults(t *testing.T) {
	doc := parse(t, experimentPage)
	d := rum.New()
	set := NewSet(env(t, "https://www.example.com/", 1200), d)
	reg := plugin.New(doc, set.Catalog)

	require.NoError(t, Declare(context.Background(), reg, Defaults("www.example.com")))

	ctx := context.Background()
	require.NoError(t, reg.Load(ctx, plugin.StageEager))
	reg.Run(ctx, plugin.HookLoadEager)
	require.NoError(t, reg.Load(ctx, plugin.StageLazy))

	st, ok := reg.State("experimentation")
	require.True(t, ok)
	assert.Equal(t, plugin.StateLoaded, st)
	st, _ = reg.State("rum-conversion")
	assert.Equal(t, plugin.StateLoaded, st)
	assert.Equal(t, "hero-test", doc.Body().Attr("data-experiment"))
	_, preview := doc.Body().LookupAttr("data-experiment-preview")
	assert.False(t, preview)
}

func TestDeclare_ConditionFalse(t *testing.T) {
	doc := parse(t, `<html><head></head><body><main></main></body></html>`)
	set := NewSet(page.Environment{}, rum.New())
	reg := plugin.New(doc, set.Catalog)

	require.NoError(t, Declare(context.Background(), reg, Defaults("")))
	require.NoError(t, reg.Load(context.Background(), plugin.StageEager))

	st, _ := reg.State("experimentation")
	assert.Equal(t, plugin.StateInactive, st)
}

func TestDeclare_SkipsInvalidAndDuplicates(t *testing.T) {
	doc := parse(t, `<html><body></body></html>`)
	reg := plugin.New(doc, NewSet(page.Environment{}, rum.New()).Catalog)

	err := Declare(context.Background(), reg, []config.PluginConfig{
		{Name: "first", URL: RefRUMConversion, Load: "lazy"},
		{Name: "first", URL: RefExperimentation},
		{Name: "bad-stage", URL: "/x.js", Load: "later"},
		{Name: "bad-cond", URL: "/y.js", Condition: "full-moon"},
		{Name: "late", URL: "/z.js", Load: "delayed", Options: map[string]any{"k": "v"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrUnknownStage)
	assert.ErrorContains(t, err, "full-moon")

	statuses := reg.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "first", statuses[0].Name)
	assert.Equal(t, RefRUMConversion, statuses[0].URL)
	assert.Equal(t, plugin.StageLazy, statuses[0].Stage)
	assert.Equal(t, "late", statuses[1].Name)
	assert.Equal(t, plugin.StageDelayed, statuses[1].Stage)
}
