package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dusk-indust/pageboot/internal/condition"
	"github.com/dusk-indust/pageboot/internal/decorate"
	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/dusk-indust/pageboot/internal/plugin"
	"github.com/dusk-indust/pageboot/internal/rum"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Decorator = (*decorate.Decorator)(nil)

// recorder is a concurrency-safe call log.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

type fakePlugins struct {
	rec *recorder
}

func (f *fakePlugins) Load(_ context.Context, stage plugin.Stage) error {
	f.rec.add("load:" + stage.String())
	return nil
}

func (f *fakePlugins) Run(_ context.Context, hook plugin.Hook) {
	f.rec.add("run:" + string(hook))
}

type fakeDecorator struct {
	rec        *recorder
	panicOn    string
	cssErr     error
	buildBlock func(string, ...*page.Element) *page.Element
}

func (f *fakeDecorator) do(name string) {
	f.rec.add(name)
	if name == f.panicOn {
		panic(name + " exploded")
	}
}

func (f *fakeDecorator) DecorateTemplateAndTheme()      { f.do("template") }
func (f *fakeDecorator) DecorateButtons(*page.Element)  { f.do("buttons") }
func (f *fakeDecorator) DecorateIcons(*page.Element)    { f.do("icons") }
func (f *fakeDecorator) DecorateSections(*page.Element) { f.do("sections") }
func (f *fakeDecorator) DecorateBlocks(*page.Element)   { f.do("blocks") }
func (f *fakeDecorator) LoadSections(context.Context, *page.Element) error {
	f.do("load-sections")
	return nil
}

func (f *fakeDecorator) BuildBlock(name string, elems ...*page.Element) *page.Element {
	f.do("build:" + name)
	if f.buildBlock != nil {
		return f.buildBlock(name, elems...)
	}
	return page.NewElement("div")
}

func (f *fakeDecorator) LoadSection(_ context.Context, _ *page.Element, wait bool) error {
	if wait {
		f.do("first-section")
	} else {
		f.do("section")
	}
	return nil
}

func (f *fakeDecorator) LoadHeader(context.Context, *page.Element) error {
	f.do("header")
	return nil
}

func (f *fakeDecorator) LoadFooter(context.Context, *page.Element) error {
	f.do("footer")
	return nil
}

func (f *fakeDecorator) LoadCSS(_ context.Context, href string) error {
	f.do("css:" + href)
	return f.cssErr
}

// manualTimer captures the delayed-stage callback.
type manualTimer struct {
	mu  sync.Mutex
	d   time.Duration
	fns []func()
}

func (m *manualTimer) AfterFunc(d time.Duration, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d = d
	m.fns = append(m.fns, f)
}

func (m *manualTimer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fns)
}

func (m *manualTimer) fire() {
	m.mu.Lock()
	f := m.fns[0]
	m.mu.Unlock()
	f()
}

const basicPage = `<html><head></head><body>
<header></header>
<main>
  <div><h1 id="intro">Hello</h1><p>text</p></div>
  <div><div class="cards"><div><div>card</div></div></div></div>
</main>
<footer></footer>
</body></html>`

func mustParse(t *testing.T, s string) *page.Document {
	t.Helper()
	doc, err := page.ParseString(s)
	require.NoError(t, err)
	return doc
}

func newFakeScheduler(t *testing.T, opts ...Option) (*Scheduler, *recorder, *fakeDecorator, *manualTimer) {
	t.Helper()
	rec := &recorder{}
	deco := &fakeDecorator{rec: rec}
	timer := &manualTimer{}
	opts = append([]Option{WithAfterFunc(timer.AfterFunc), WithCodeBasePath("/site")}, opts...)
	s := New(mustParse(t, basicPage), &fakePlugins{rec: rec}, deco, nil, opts...)
	return s, rec, deco, timer
}

func TestLoadPage_CriticalPathOrder(t *testing.T) {
	rec := &recorder{}
	d := rum.New()
	d.On(rum.CheckpointLazy, func(context.Context, rum.Data) error {
		rec.add("rum:lazy")
		return nil
	})
	timer := &manualTimer{}
	s := New(mustParse(t, basicPage), &fakePlugins{rec: rec}, &fakeDecorator{rec: rec}, d,
		WithAfterFunc(timer.AfterFunc), WithCodeBasePath("/site"))

	require.NoError(t, s.LoadPage(context.Background()))
	s.Settle()

	want := []string{
		"load:eager",
		"template",
		"run:loadEager",
		"buttons",
		"icons",
		"sections",
		"blocks",
		"first-section",
		"load:lazy",
		"load-sections",
		"rum:lazy",
		"run:loadLazy",
	}
	calls := rec.all()
	require.GreaterOrEqual(t, len(calls), len(want))
	assert.Equal(t, want, calls[:len(want)], "critical path runs before any detached task")
	assert.ElementsMatch(t,
		[]string{"header", "footer", "css:/site/styles/lazy-styles.css", "css:/site/styles/fonts.css"},
		calls[len(want):])

	assert.Equal(t, "en", s.doc.Lang())
	assert.True(t, s.doc.Body().HasClass("appear"))
}

func TestLoadPage_DelayedStageIsScheduledNotAwaited(t *testing.T) {
	var delayedWork bool
	s, rec, _, timer := newFakeScheduler(t, WithDelayedWork(func(context.Context) error {
		delayedWork = true
		return nil
	}))

	require.NoError(t, s.LoadPage(context.Background()))
	s.Settle()

	require.Equal(t, 1, timer.count())
	assert.Equal(t, DefaultDelayedAfter, timer.d)
	assert.NotContains(t, rec.all(), "load:delayed")
	select {
	case <-s.Delayed():
		t.Fatal("delayed stage finished before its timer fired")
	default:
	}

	timer.fire()
	<-s.Delayed()

	calls := rec.all()
	i := slices.Index(calls, "load:delayed")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, "run:loadDelayed", calls[i+1])
	assert.True(t, delayedWork)
}

func TestLoadPage_DelayedAfterOption(t *testing.T) {
	s, _, _, timer := newFakeScheduler(t, WithDelayedAfter(50*time.Millisecond))
	require.NoError(t, s.LoadPage(context.Background()))
	assert.Equal(t, 50*time.Millisecond, timer.d)
}

func TestLoadPage_RealTimerRunsDelayedStage(t *testing.T) {
	rec := &recorder{}
	s := New(mustParse(t, basicPage), &fakePlugins{rec: rec}, &fakeDecorator{rec: rec}, nil,
		WithDelayedAfter(10*time.Millisecond))
	require.NoError(t, s.LoadPage(context.Background()))

	select {
	case <-s.Delayed():
	case <-time.After(2 * time.Second):
		t.Fatal("delayed stage never ran")
	}
	assert.Contains(t, rec.all(), "run:loadDelayed")
}

func TestLoadPage_AwaitsAnalyticsAfterSchedulingDelayed(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s, _, _, timer := newFakeScheduler(t, WithAnalytics(func(context.Context) error {
		close(started)
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- s.LoadPage(context.Background()) }()

	<-started
	assert.Eventually(t, func() bool { return timer.count() == 1 }, time.Second, time.Millisecond,
		"delayed stage is scheduled while analytics is still running")
	select {
	case <-done:
		t.Fatal("LoadPage returned before analytics setup settled")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("LoadPage did not return")
	}
}

func TestLoadPage_AnalyticsFailureIsNotFatal(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())
	pr := NewProgressReporter()
	s, _, _, _ := newFakeScheduler(t, WithProgress(pr), WithAnalytics(func(context.Context) error {
		return errors.New("collector unreachable")
	}))

	require.NoError(t, s.LoadPage(ctx))
	assert.Contains(t, buf.String(), "analytics setup failed")

	pr.Close()
	var failed []Step
	for ev := range pr.Subscribe() {
		if ev.Status == ProgressFailed {
			failed = append(failed, ev.Step)
		}
	}
	assert.Equal(t, []Step{StepAnalytics}, failed)
}

func TestLoadPage_AnalyticsPanicIsContained(t *testing.T) {
	s, _, _, _ := newFakeScheduler(t, WithAnalytics(func(context.Context) error {
		panic("setup bug")
	}))
	assert.NoError(t, s.LoadPage(context.Background()))
}

func TestLoadPage_OnlyOnce(t *testing.T) {
	s, _, _, _ := newFakeScheduler(t)
	require.NoError(t, s.LoadPage(context.Background()))
	assert.ErrorIs(t, s.LoadPage(context.Background()), ErrStarted)
}

func TestLoadPage_RequiresCollaborators(t *testing.T) {
	s := New(nil, nil, nil, nil)
	assert.Error(t, s.LoadPage(context.Background()))
}

func TestLoadPage_DecorationFailureIsIsolated(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())
	s, rec, deco, _ := newFakeScheduler(t)
	deco.panicOn = "buttons"

	require.NoError(t, s.LoadPage(ctx))

	calls := rec.all()
	assert.Contains(t, calls, "icons")
	assert.Contains(t, calls, "blocks")
	assert.Contains(t, calls, "run:loadLazy")
	assert.True(t, s.doc.Body().HasClass("appear"))
	assert.Contains(t, buf.String(), "decoration failed")
}

func TestLoadPage_HeroAutoBlock(t *testing.T) {
	const heroPage = `<html><body><main>
		<div><picture><img src="/hero.jpg"></picture><h1>Welcome</h1><p>body</p></div>
	</main></body></html>`
	doc := mustParse(t, heroPage)
	deco := decorate.New(doc)
	s := New(doc, &fakePlugins{rec: &recorder{}}, deco, nil, WithAfterFunc((&manualTimer{}).AfterFunc))

	require.NoError(t, s.LoadPage(context.Background()))
	s.Settle()

	hero := doc.Main().Find(page.HasAttr("data-block-name"))
	require.NotNil(t, hero)
	assert.Equal(t, "hero", hero.Attr("data-block-name"))
	assert.NotNil(t, hero.Find(page.ByTag("picture")))
	assert.NotNil(t, hero.Find(page.ByTag("h1")))

	sections := doc.Sections()
	require.Len(t, sections, 2, "hero gets its own section ahead of the content")
	assert.NotNil(t, sections[0].Find(page.ByClass("hero")))
	for _, sec := range sections {
		assert.Equal(t, decorate.StatusLoaded, sec.Attr("data-section-status"))
	}
}

func TestLoadPage_NoHeroWhenHeadingComesFirst(t *testing.T) {
	doc := mustParse(t, `<html><body><main>
		<div><h1>Welcome</h1><picture><img src="/a.jpg"></picture></div>
	</main></body></html>`)
	rec := &recorder{}
	s := New(doc, &fakePlugins{rec: rec}, &fakeDecorator{rec: rec}, nil, WithAfterFunc((&manualTimer{}).AfterFunc))

	require.NoError(t, s.LoadPage(context.Background()))
	assert.NotContains(t, rec.all(), "build:hero")
}

func TestLoadPage_AutoBlockFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())
	doc := mustParse(t, `<html><body><main>
		<div><picture><img src="/a.jpg"></picture><h1>Welcome</h1></div>
	</main></body></html>`)
	rec := &recorder{}
	deco := &fakeDecorator{rec: rec, panicOn: "build:hero"}
	s := New(doc, &fakePlugins{rec: rec}, deco, nil, WithAfterFunc((&manualTimer{}).AfterFunc))

	require.NoError(t, s.LoadPage(ctx))
	assert.Contains(t, buf.String(), "auto blocking failed")
	assert.Contains(t, rec.all(), "sections")
}

func TestLoadPage_ScrollsToDeepLink(t *testing.T) {
	var scrolled []string
	u, _ := url.Parse("https://www.example.com/page#intro")
	s, _, _, _ := newFakeScheduler(t, WithEnvironment(page.Environment{
		URL:            u,
		ScrollIntoView: func(el *page.Element) { scrolled = append(scrolled, el.ID()) },
	}))

	require.NoError(t, s.LoadPage(context.Background()))
	assert.Equal(t, []string{"intro"}, scrolled)
}

func TestLoadPage_UnknownFragmentDoesNotScroll(t *testing.T) {
	called := false
	u, _ := url.Parse("https://www.example.com/page#missing")
	s, _, _, _ := newFakeScheduler(t, WithEnvironment(page.Environment{
		URL:            u,
		ScrollIntoView: func(*page.Element) { called = true },
	}))
	require.NoError(t, s.LoadPage(context.Background()))
	assert.False(t, called)
}

func TestLoadPage_ObservesBlocksAndMedia(t *testing.T) {
	doc := mustParse(t, `<html><body><main>
		<div><div class="cards"><div><div><picture><img src="/c.png"></picture></div></div></div></div>
	</main></body></html>`)
	d := rum.New()
	var blocks, media []any
	d.On(rum.CheckpointViewBlock, func(_ context.Context, data rum.Data) error {
		blocks = append(blocks, data.Source)
		return nil
	})
	d.On(rum.CheckpointViewMedia, func(_ context.Context, data rum.Data) error {
		media = append(media, data.Target)
		return nil
	})
	s := New(doc, &fakePlugins{rec: &recorder{}}, decorate.New(doc), d, WithAfterFunc((&manualTimer{}).AfterFunc))

	require.NoError(t, s.LoadPage(context.Background()))
	assert.Equal(t, []any{"cards"}, blocks)
	assert.Equal(t, []any{"/c.png"}, media)
}

func TestFontsWanted(t *testing.T) {
	flagged := page.NewMemorySession()
	require.NoError(t, flagged.Set(FontsSessionKey, "true"))

	tests := []struct {
		name string
		env  page.Environment
		want bool
	}{
		{"wide viewport", page.Environment{ViewportWidth: 1200}, true},
		{"exact threshold", page.Environment{ViewportWidth: 900}, true},
		{"narrow without session", page.Environment{ViewportWidth: 400}, false},
		{"narrow with flag", page.Environment{ViewportWidth: 400, Session: flagged}, true},
		{"narrow fresh session", page.Environment{ViewportWidth: 400, Session: page.NewMemorySession()}, false},
		{"storage denied", page.Environment{ViewportWidth: 400, Session: page.DeniedSession{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _, _ := newFakeScheduler(t, WithEnvironment(tt.env))
			assert.Equal(t, tt.want, s.fontsWanted())
		})
	}
}

func TestLoadFonts_SessionFlag(t *testing.T) {
	prod, _ := url.Parse("https://www.example.com/")
	local, _ := url.Parse("http://localhost:3000/")

	t.Run("sets flag on success", func(t *testing.T) {
		sess := page.NewMemorySession()
		s, _, _, _ := newFakeScheduler(t, WithEnvironment(page.Environment{URL: prod, Session: sess}))
		require.NoError(t, s.loadFonts(context.Background()))
		v, _ := sess.Get(FontsSessionKey)
		assert.Equal(t, "true", v)
	})

	t.Run("not on localhost", func(t *testing.T) {
		sess := page.NewMemorySession()
		s, _, _, _ := newFakeScheduler(t, WithEnvironment(page.Environment{URL: local, Session: sess}))
		require.NoError(t, s.loadFonts(context.Background()))
		v, _ := sess.Get(FontsSessionKey)
		assert.Empty(t, v)
	})

	t.Run("not when stylesheet fails", func(t *testing.T) {
		sess := page.NewMemorySession()
		s, _, deco, _ := newFakeScheduler(t, WithEnvironment(page.Environment{URL: prod, Session: sess}))
		deco.cssErr = errors.New("404")
		assert.Error(t, s.loadFonts(context.Background()))
		v, _ := sess.Get(FontsSessionKey)
		assert.Empty(t, v)
	})

	t.Run("storage denied is swallowed", func(t *testing.T) {
		s, _, _, _ := newFakeScheduler(t, WithEnvironment(page.Environment{URL: prod, Session: page.DeniedSession{}}))
		assert.NoError(t, s.loadFonts(context.Background()))
	})
}

func TestLoadPage_WithRegistry(t *testing.T) {
	doc := mustParse(t, `<html><head><meta name="audience-mobile" content="on"></head><body><main>
		<div><h1>Hi</h1></div>
	</main></body></html>`)

	var hooks []string
	var mu sync.Mutex
	hook := func(name string) plugin.HookFunc {
		return func(context.Context, *page.Document, plugin.Options) error {
			mu.Lock()
			defer mu.Unlock()
			hooks = append(hooks, name)
			return nil
		}
	}

	reg := plugin.New(doc, nil)
	reg.Add("broken", plugin.Descriptor{Stage: plugin.StageEager, Module: plugin.Hooks{
		plugin.HookLoadEager: func(context.Context, *page.Document, plugin.Options) error {
			return errors.New("boom")
		},
	}})
	reg.Add("experimentation", plugin.Descriptor{
		Stage:     plugin.StageEager,
		Condition: condition.Experimentation,
		Module: plugin.Hooks{
			plugin.HookLoadEager: hook("experimentation:eager"),
			plugin.HookLoadLazy:  hook("experimentation:lazy"),
		},
	})
	reg.Add("rum-conversion", plugin.Descriptor{
		Stage: plugin.StageLazy,
		Module: plugin.Hooks{
			plugin.HookLoadEager: hook("rum-conversion:eager"),
			plugin.HookLoadLazy:  hook("rum-conversion:lazy"),
		},
	})
	reg.Add("late", plugin.Descriptor{
		Stage:  plugin.StageDelayed,
		Module: plugin.Hooks{plugin.HookLoadDelayed: hook("late:delayed")},
	})

	timer := &manualTimer{}
	s := New(doc, reg, decorate.New(doc), nil, WithAfterFunc(timer.AfterFunc))
	require.NoError(t, s.LoadPage(context.Background()))

	mu.Lock()
	assert.Equal(t, []string{"experimentation:eager", "experimentation:lazy", "rum-conversion:lazy"}, hooks,
		"lazy plugins are not loaded when the eager hook runs")
	mu.Unlock()

	state, _ := reg.State("broken")
	assert.Equal(t, plugin.StateLoaded, state, "a failing hook does not unload the plugin")

	timer.fire()
	<-s.Delayed()
	mu.Lock()
	assert.Contains(t, hooks, "late:delayed")
	mu.Unlock()
}

func TestLoadPage_ProgressSequence(t *testing.T) {
	pr := NewProgressReporter()
	s, _, _, timer := newFakeScheduler(t, WithProgress(pr))
	require.NoError(t, s.LoadPage(context.Background()))
	timer.fire()
	<-s.Delayed()
	pr.Close()

	var completed []Step
	for ev := range pr.Subscribe() {
		if ev.Status == ProgressComplete {
			completed = append(completed, ev.Step)
		}
	}
	assert.Equal(t, []Step{StepEagerPlugins, StepEager, StepLazyPlugins, StepLazy, StepDelayed}, completed)
}
