// Package bootstrap sequences a page load into its eager, lazy and delayed
// stages.
//
// The page has a single timeline. LoadPage holds it from the eager plugin
// load through the lazy hook run; fire-and-forget work (fonts, header,
// footer, lazy styles) and the delayed stage queue on it and run once the
// critical path has released it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/dusk-indust/pageboot/internal/plugin"
	"github.com/dusk-indust/pageboot/internal/rum"
	"github.com/rs/zerolog"
)

// Defaults for Scheduler options.
const (
	DefaultLang             = "en"
	DefaultDelayedAfter     = 3 * time.Second
	DefaultFontsMinViewport = 900
)

// FontsSessionKey is the session flag recording that fonts were loaded.
const FontsSessionKey = "fonts-loaded"

// ErrStarted is returned when LoadPage is called twice.
var ErrStarted = errors.New("bootstrap: page already loading")

// Plugins is the part of the plugin registry the scheduler drives.
type Plugins interface {
	Load(ctx context.Context, stage plugin.Stage) error
	Run(ctx context.Context, hook plugin.Hook)
}

// Decorator performs the DOM decoration and resource loading the scheduler
// delegates.
type Decorator interface {
	DecorateTemplateAndTheme()
	DecorateButtons(el *page.Element)
	DecorateIcons(el *page.Element)
	DecorateSections(main *page.Element)
	DecorateBlocks(main *page.Element)
	BuildBlock(name string, elems ...*page.Element) *page.Element
	LoadSection(ctx context.Context, section *page.Element, waitForImage bool) error
	LoadSections(ctx context.Context, main *page.Element) error
	LoadHeader(ctx context.Context, el *page.Element) error
	LoadFooter(ctx context.Context, el *page.Element) error
	LoadCSS(ctx context.Context, href string) error
}

// Scheduler runs the bootstrap of one page.
type Scheduler struct {
	doc     *page.Document
	plugins Plugins
	deco    Decorator
	rum     *rum.Dispatcher

	env              page.Environment
	lang             string
	codeBasePath     string
	fontsMinViewport int
	delayedAfter     time.Duration
	setupAnalytics   func(ctx context.Context) error
	delayedWork      func(ctx context.Context) error
	afterFunc        func(time.Duration, func())
	progress         *ProgressReporter

	timeline sync.Mutex
	tasks    sync.WaitGroup
	started  atomic.Bool
	delayed  chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEnvironment sets the browsing context (viewport, URL, session).
func WithEnvironment(env page.Environment) Option {
	return func(s *Scheduler) { s.env = env }
}

// WithLang sets the document language.
func WithLang(lang string) Option {
	return func(s *Scheduler) {
		if lang != "" {
			s.lang = lang
		}
	}
}

// WithCodeBasePath sets the prefix of site stylesheets.
func WithCodeBasePath(p string) Option {
	return func(s *Scheduler) { s.codeBasePath = p }
}

// WithFontsMinViewport sets the viewport width from which fonts load eagerly.
func WithFontsMinViewport(px int) Option {
	return func(s *Scheduler) {
		if px > 0 {
			s.fontsMinViewport = px
		}
	}
}

// WithDelayedAfter sets the delay before the delayed stage.
func WithDelayedAfter(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.delayedAfter = d
		}
	}
}

// WithAnalytics sets the analytics setup run alongside the delayed stage
// scheduling and awaited at the end of LoadPage.
func WithAnalytics(setup func(ctx context.Context) error) Option {
	return func(s *Scheduler) { s.setupAnalytics = setup }
}

// WithDelayedWork sets extra work for the delayed stage, run after the
// loadDelayed hook.
func WithDelayedWork(work func(ctx context.Context) error) Option {
	return func(s *Scheduler) { s.delayedWork = work }
}

// WithAfterFunc replaces the timer that schedules the delayed stage.
func WithAfterFunc(f func(time.Duration, func())) Option {
	return func(s *Scheduler) { s.afterFunc = f }
}

// WithProgress sets the reporter receiving ProgressEvents.
func WithProgress(pr *ProgressReporter) Option {
	return func(s *Scheduler) { s.progress = pr }
}

// New creates a Scheduler. dispatcher may be nil when no RUM listeners are
// wanted.
func New(doc *page.Document, plugins Plugins, deco Decorator, dispatcher *rum.Dispatcher, opts ...Option) *Scheduler {
	if dispatcher == nil {
		dispatcher = rum.New()
	}
	s := &Scheduler{
		doc:              doc,
		plugins:          plugins,
		deco:             deco,
		rum:              dispatcher,
		lang:             DefaultLang,
		fontsMinViewport: DefaultFontsMinViewport,
		delayedAfter:     DefaultDelayedAfter,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		delayed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delayed returns a channel closed when the delayed stage has finished.
func (s *Scheduler) Delayed() <-chan struct{} { return s.delayed }

// Settle waits for the fire-and-forget tasks started so far.
func (s *Scheduler) Settle() { s.tasks.Wait() }

// LoadPage runs the bootstrap. It returns once the lazy stage has finished
// and analytics setup has settled; the delayed stage is only scheduled.
// Failures of plugins, decoration, fonts or analytics are logged and never
// returned; only a context already done when LoadPage is called aborts it.
func (s *Scheduler) LoadPage(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.doc == nil || s.plugins == nil || s.deco == nil {
		return fmt.Errorf("bootstrap: scheduler needs a document, plugins and a decorator")
	}
	logger := zerolog.Ctx(ctx)

	s.timeline.Lock()
	s.loadPlugins(ctx, StepEagerPlugins, plugin.StageEager)
	s.loadEager(ctx)
	s.loadPlugins(ctx, StepLazyPlugins, plugin.StageLazy)
	s.loadLazy(ctx)
	s.timeline.Unlock()

	analytics := make(chan error, 1)
	if s.setupAnalytics != nil {
		s.emit(StepAnalytics, ProgressWorking, "")
		go func() {
			analytics <- runGuarded(func() error { return s.setupAnalytics(ctx) })
		}()
	} else {
		analytics <- nil
	}

	s.loadDelayed(ctx)

	if err := <-analytics; err != nil {
		logger.Warn().Err(err).Msg("analytics setup failed")
		s.emit(StepAnalytics, ProgressFailed, err.Error())
	} else if s.setupAnalytics != nil {
		s.emit(StepAnalytics, ProgressComplete, "")
	}
	return nil
}

func (s *Scheduler) loadPlugins(ctx context.Context, step Step, stage plugin.Stage) {
	s.emit(step, ProgressWorking, "")
	if err := s.plugins.Load(ctx, stage); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("stage", stage.String()).Msg("plugin stage failed")
		s.emit(step, ProgressFailed, err.Error())
		return
	}
	s.emit(step, ProgressComplete, "")
}

// loadEager gets the page to its first visible section.
func (s *Scheduler) loadEager(ctx context.Context) {
	logger := zerolog.Ctx(ctx)
	s.emit(StepEager, ProgressWorking, "")

	s.doc.SetLang(s.lang)
	s.guard(ctx, "template and theme", func() { s.deco.DecorateTemplateAndTheme() })
	s.plugins.Run(ctx, plugin.HookLoadEager)

	if main := s.doc.Main(); main != nil {
		s.decorateMain(ctx, main)
		if body := s.doc.Body(); body != nil {
			body.AddClass("appear")
		}
		first := main.Find(page.ByClass("section"))
		if err := s.deco.LoadSection(ctx, first, true); err != nil {
			logger.Warn().Err(err).Msg("first section failed")
		}
	}

	if s.fontsWanted() {
		s.detach(ctx, "fonts", s.loadFonts)
	}
	s.emit(StepEager, ProgressComplete, "")
}

// decorateMain decorates the main content container. Each step is isolated.
func (s *Scheduler) decorateMain(ctx context.Context, main *page.Element) {
	s.guard(ctx, "buttons", func() { s.deco.DecorateButtons(main) })
	s.guard(ctx, "icons", func() { s.deco.DecorateIcons(main) })
	s.buildAutoBlocks(ctx, main)
	s.guard(ctx, "sections", func() { s.deco.DecorateSections(main) })
	s.guard(ctx, "blocks", func() { s.deco.DecorateBlocks(main) })
}

// loadLazy loads everything that does not need to be delayed.
func (s *Scheduler) loadLazy(ctx context.Context) {
	logger := zerolog.Ctx(ctx)
	s.emit(StepLazy, ProgressWorking, "")
	main := s.doc.Main()

	if err := s.deco.LoadSections(ctx, main); err != nil {
		logger.Warn().Err(err).Msg("sections failed")
	}

	if frag := s.env.Fragment(); frag != "" {
		if el := s.doc.ElementByID(frag); el != nil && s.env.ScrollIntoView != nil {
			s.env.ScrollIntoView(el)
		}
	}

	header, footer := s.doc.Header(), s.doc.Footer()
	s.detach(ctx, "header", func(ctx context.Context) error { return s.deco.LoadHeader(ctx, header) })
	s.detach(ctx, "footer", func(ctx context.Context) error { return s.deco.LoadFooter(ctx, footer) })
	s.detach(ctx, "lazy styles", func(ctx context.Context) error {
		return s.deco.LoadCSS(ctx, s.codeBasePath+"/styles/lazy-styles.css")
	})
	s.detach(ctx, "fonts", s.loadFonts)

	s.rum.Fire(ctx, rum.CheckpointLazy, rum.Data{})
	if main != nil {
		s.rum.Observe(ctx, main.FindAll(func(el *page.Element) bool {
			return el.Tag() == "div" && el.Attr("data-block-name") != ""
		}))
		s.rum.Observe(ctx, main.FindAll(func(el *page.Element) bool {
			p := el.Parent()
			return el.Tag() == "img" && p != nil && p.Tag() == "picture"
		}))
	}

	s.plugins.Run(ctx, plugin.HookLoadLazy)
	s.emit(StepLazy, ProgressComplete, "")
}

// loadDelayed schedules the delayed stage. It is not awaited.
func (s *Scheduler) loadDelayed(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.afterFunc(s.delayedAfter, func() {
		defer close(s.delayed)
		s.timeline.Lock()
		defer s.timeline.Unlock()

		s.loadPlugins(ctx, StepDelayed, plugin.StageDelayed)
		s.plugins.Run(ctx, plugin.HookLoadDelayed)
		if s.delayedWork != nil {
			if err := runGuarded(func() error { return s.delayedWork(ctx) }); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("delayed work failed")
			}
		}
	})
}

// fontsWanted reports whether fonts load during the eager stage: on wide
// viewports, or when an earlier page of the session already loaded them.
func (s *Scheduler) fontsWanted() bool {
	if s.env.ViewportWidth >= s.fontsMinViewport {
		return true
	}
	if s.env.Session == nil {
		return false
	}
	v, err := s.env.Session.Get(FontsSessionKey)
	return err == nil && v != ""
}

// loadFonts loads the font stylesheet and records it in the session.
func (s *Scheduler) loadFonts(ctx context.Context) error {
	if err := s.deco.LoadCSS(ctx, s.codeBasePath+"/styles/fonts.css"); err != nil {
		return err
	}
	if s.env.Session != nil && !s.env.IsLocal() {
		_ = s.env.Session.Set(FontsSessionKey, "true")
	}
	return nil
}

// detach runs fn on the timeline after the current holder releases it.
func (s *Scheduler) detach(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.timeline.Lock()
		defer s.timeline.Unlock()
		if err := runGuarded(func() error { return fn(ctx) }); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("task", name).Msg("background task failed")
		}
	}()
}

// guard runs a decoration step, logging a panic instead of propagating it.
func (s *Scheduler) guard(ctx context.Context, name string, fn func()) {
	err := runGuarded(func() error {
		fn()
		return nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("step", name).Msg("decoration failed")
	}
}

func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (s *Scheduler) emit(step Step, status ProgressStatus, msg string) {
	if s.progress == nil {
		return
	}
	s.progress.Emit(ProgressEvent{Step: step, Status: status, Message: msg, At: time.Now()})
}
