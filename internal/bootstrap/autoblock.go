package bootstrap

import (
	"context"

	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/rs/zerolog"
)

// buildAutoBlocks builds the synthetic blocks of main.
func (s *Scheduler) buildAutoBlocks(ctx context.Context, main *page.Element) {
	err := runGuarded(func() error {
		s.buildHeroBlock(main)
		return nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("auto blocking failed")
	}
}

// buildHeroBlock moves a picture that precedes the first heading into a
// hero block, prepended to main in a new section.
func (s *Scheduler) buildHeroBlock(main *page.Element) {
	h1 := main.Find(page.ByTag("h1"))
	picture := main.Find(page.ByTag("picture"))
	if h1 == nil || picture == nil || !picture.Precedes(h1) {
		return
	}
	section := page.NewElement("div")
	section.Append(s.deco.BuildBlock("hero", picture, h1))
	main.Prepend(section)
}
