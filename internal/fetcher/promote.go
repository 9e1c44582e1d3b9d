package fetcher

import (
	"context"

	"go.uber.org/zap"
)

// Detector decides whether a probed page needs a rendered re-fetch.
type Detector interface {
	ShouldPromote(page Page) bool
}

// Promoting fetches every page with a cheap probe fetcher and re-fetches it
// through a rendering fetcher when the detector asks for it. A failed
// render falls back to the probed page.
type Promoting struct {
	probe  Fetcher
	render Fetcher
	detect Detector
	logger *zap.Logger
}

// NewPromoting composes probe and render. A nil render or detector turns
// promotion off.
func NewPromoting(probe, render Fetcher, detect Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{probe: probe, render: render, detect: detect, logger: logger.Named("promote")}
}

// Fetch implements Fetcher.
func (p *Promoting) Fetch(ctx context.Context, url string) (Page, error) {
	page, err := p.probe.Fetch(ctx, url)
	if err != nil {
		return Page{}, err
	}
	if p.render == nil || p.detect == nil || !p.detect.ShouldPromote(page) {
		return page, nil
	}
	rendered, err := p.render.Fetch(ctx, url)
	if err != nil {
		p.logger.Warn("headless fetch failed, keeping probe result", zap.String("url", url), zap.Error(err))
		return page, nil
	}
	p.logger.Debug("promoted to headless", zap.String("url", url), zap.Int("probe_bytes", len(page.Body)))
	return rendered, nil
}

var _ Fetcher = (*Promoting)(nil)
