package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Eyevinn/mp4ff/mp4"
)

// ContainerProfile is the part of an init segment that decides whether two
// streams can be concatenated without an EXT-X-DISCONTINUITY.
type ContainerProfile struct {
	Codec     string
	Timescale uint32
}

// Matches reports whether segments from both profiles share codec and
// fMP4 timebase.
func (p *ContainerProfile) Matches(o *ContainerProfile) bool {
	if p == nil || o == nil {
		return false
	}
	return p.Codec == o.Codec && p.Timescale == o.Timescale
}

// ProfileFromInitSegment reads codec and timescale from an fMP4 init segment.
func ProfileFromInitSegment(data []byte) (*ContainerProfile, error) {
	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("init segment decode: %w", err)
	}
	moov := f.Moov
	if f.Init != nil {
		moov = f.Init.Moov
	}
	if moov == nil || len(moov.Traks) == 0 {
		return nil, fmt.Errorf("init segment has no moov/trak")
	}
	trak := moov.Traks[0]
	if trak.Mdia == nil || trak.Mdia.Mdhd == nil {
		return nil, fmt.Errorf("init segment has no mdhd")
	}
	p := &ContainerProfile{Timescale: trak.Mdia.Mdhd.Timescale}
	if trak.Mdia.Minf != nil && trak.Mdia.Minf.Stbl != nil &&
		trak.Mdia.Minf.Stbl.Stsd != nil && len(trak.Mdia.Minf.Stbl.Stsd.Children) > 0 {
		p.Codec = trak.Mdia.Minf.Stbl.Stsd.Children[0].Type()
	}
	return p, nil
}

// containerMatcher fetches and caches init-segment profiles so the SSAI
// rewrite can decide the conditional discontinuity.
type containerMatcher struct {
	fetch func(ctx context.Context, url string) ([]byte, error)

	mu       sync.Mutex
	profiles map[string]*ContainerProfile
}

func newContainerMatcher(fetch func(ctx context.Context, url string) ([]byte, error)) *containerMatcher {
	return &containerMatcher{fetch: fetch, profiles: make(map[string]*ContainerProfile)}
}

// Match reports whether the content and ad init segments carry the same
// container profile. Any fetch or parse problem means "no match", which
// keeps the discontinuity markers in place.
func (m *containerMatcher) Match(ctx context.Context, contentInitURL, adInitURL string) bool {
	if contentInitURL == "" || adInitURL == "" {
		return false
	}
	cp := m.profile(ctx, contentInitURL)
	ap := m.profile(ctx, adInitURL)
	return cp.Matches(ap)
}

func (m *containerMatcher) profile(ctx context.Context, url string) *ContainerProfile {
	m.mu.Lock()
	if p, ok := m.profiles[url]; ok {
		m.mu.Unlock()
		return p
	}
	m.mu.Unlock()

	data, err := m.fetch(ctx, url)
	if err != nil {
		slog.Debug("init segment fetch failed", "url", url, "err", err)
		return nil
	}
	p, err := ProfileFromInitSegment(data)
	if err != nil {
		slog.Debug("init segment parse failed", "url", url, "err", err)
		return nil
	}
	m.mu.Lock()
	m.profiles[url] = p
	m.mu.Unlock()
	return p
}
