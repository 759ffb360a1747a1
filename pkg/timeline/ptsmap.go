// Package timeline aligns the 90 kHz PTS clock with wall-clock time and
// resolves splice points against encoder keyframes.
package timeline

import (
	"errors"
	"log/slog"
	"time"
)

const (
	// PTSClock is the MPEG-TS system clock rate in Hz.
	PTSClock = 90000

	ptsModulus = uint64(1) << 33

	// maxSamples bounds the calibration buffer.
	maxSamples = 32

	// nominalSlope is ms of wall clock per PTS tick.
	nominalSlope = 1000.0 / float64(PTSClock)

	// driftWarnMS is the prediction error above which drift is logged.
	driftWarnMS = 250.0
)

// ErrNoSamples is returned by Estimate before any Ingest.
var ErrNoSamples = errors.New("timeline: no calibration samples")

type sample struct {
	rawPTS    uint64
	unwrapped uint64
	pdtUnixMS int64
}

// PTSMapper maintains an affine mapping between unwrapped PTS and
// EXT-X-PROGRAM-DATE-TIME wall-clock milliseconds.
//
// The 33-bit PTS wraps every ~26.5 h; Ingest unwraps monotonically so the
// fit sees a continuous axis. Not safe for concurrent use; callers hold
// one mapper per channel/variant stream.
type PTSMapper struct {
	samples     []sample
	lastRaw     uint64
	wrapOffset  uint64
	haveLast    bool
	lastDriftMS float64
}

// NewPTSMapper returns an empty mapper.
func NewPTSMapper() *PTSMapper {
	return &PTSMapper{samples: make([]sample, 0, maxSamples)}
}

// unwrap converts a raw 33-bit PTS to a monotonic value, detecting forward
// wraps (raw dropped by more than 2^32) and backward corrections.
func (m *PTSMapper) unwrap(raw uint64) uint64 {
	raw %= ptsModulus
	if m.haveLast {
		halfRange := ptsModulus / 2
		switch {
		case m.lastRaw > raw && m.lastRaw-raw > halfRange:
			m.wrapOffset += ptsModulus
		case raw > m.lastRaw && raw-m.lastRaw > halfRange && m.wrapOffset >= ptsModulus:
			m.wrapOffset -= ptsModulus
		}
	}
	m.lastRaw = raw
	m.haveLast = true
	return raw + m.wrapOffset
}

// Ingest records a (pts, pdt) observation. If a prediction existed for that
// PTS, the drift between prediction and observation is tracked and logged
// above 250 ms.
func (m *PTSMapper) Ingest(pts uint64, pdt time.Time) {
	observedMS := pdt.UnixMilli()
	if len(m.samples) >= 2 {
		if predicted, err := m.Estimate(pts); err == nil {
			m.lastDriftMS = float64(observedMS - predicted.UnixMilli())
			if m.lastDriftMS > driftWarnMS || m.lastDriftMS < -driftWarnMS {
				slog.Warn("pts-pdt drift above threshold",
					"drift_ms", m.lastDriftMS, "pts", pts)
			}
		}
	}
	unwrapped := m.unwrap(pts)
	m.samples = append(m.samples, sample{rawPTS: pts, unwrapped: unwrapped, pdtUnixMS: observedMS})
	if len(m.samples) > maxSamples {
		m.samples = m.samples[1:]
	}
}

// Estimate predicts the wall-clock time of pts. With fewer than two samples
// the nominal 90 kHz slope anchors on the sole sample.
func (m *PTSMapper) Estimate(pts uint64) (time.Time, error) {
	if len(m.samples) == 0 {
		return time.Time{}, ErrNoSamples
	}
	x := m.alignToWindow(pts)
	slope, intercept := m.fit()
	ms := slope*float64(x) + intercept
	return time.UnixMilli(int64(ms + 0.5)).UTC(), nil
}

// Slope returns the current ms-per-tick slope of the fit.
func (m *PTSMapper) Slope() float64 {
	slope, _ := m.fit()
	return slope
}

// LastDriftMS returns the most recent observed-minus-predicted drift.
func (m *PTSMapper) LastDriftMS() float64 { return m.lastDriftMS }

// SampleCount returns the number of calibration samples held.
func (m *PTSMapper) SampleCount() int { return len(m.samples) }

// Reset clears all calibration state. Called on EXT-X-DISCONTINUITY, after
// which estimates are undefined until the next Ingest.
func (m *PTSMapper) Reset() {
	m.samples = m.samples[:0]
	m.haveLast = false
	m.wrapOffset = 0
	m.lastRaw = 0
	m.lastDriftMS = 0
}

// alignToWindow maps a raw PTS onto the unwrapped axis of the most recent
// continuity window, correcting by ±2^33 when the raw value sits on the
// other side of a wrap from the last sample.
func (m *PTSMapper) alignToWindow(pts uint64) uint64 {
	pts %= ptsModulus
	last := m.samples[len(m.samples)-1]
	candidate := pts + m.wrapOffset
	halfRange := ptsModulus / 2
	switch {
	case candidate+halfRange < last.unwrapped:
		candidate += ptsModulus
	case candidate > last.unwrapped+halfRange && candidate >= ptsModulus:
		candidate -= ptsModulus
	}
	return candidate
}

// fit computes the affine pdt_ms = slope*unwrapped + intercept by least
// squares over the sample buffer.
func (m *PTSMapper) fit() (slope, intercept float64) {
	n := len(m.samples)
	if n == 0 {
		return nominalSlope, 0
	}
	if n == 1 {
		s := m.samples[0]
		return nominalSlope, float64(s.pdtUnixMS) - nominalSlope*float64(s.unwrapped)
	}
	// Center on the first sample to keep the sums well conditioned.
	x0 := float64(m.samples[0].unwrapped)
	y0 := float64(m.samples[0].pdtUnixMS)
	var sumX, sumY, sumXX, sumXY float64
	for _, s := range m.samples {
		x := float64(s.unwrapped) - x0
		y := float64(s.pdtUnixMS) - y0
		sumX += x
		sumY += y
		sumXX += x * x
		sumXY += x * y
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return nominalSlope, y0 - nominalSlope*x0
	}
	slope = (nf*sumXY - sumX*sumY) / denom
	intercept = (sumY-slope*sumX)/nf + y0 - slope*x0
	return slope, intercept
}
