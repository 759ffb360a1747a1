package timeline

import "sort"

// maxIDREntries bounds the IDR timeline; oldest entries are evicted first.
const maxIDREntries = 512

// Frame source markers. Encoder reports win over segmenter reports when
// both claim the same PTS.
const (
	SourceEncoder   = "encoder"
	SourceSegmenter = "segmenter"
)

// IDRFrame is one keyframe observation.
type IDRFrame struct {
	PTS      uint64
	TimeS    float64
	Source   string
	Sequence int64
}

// SnapReason explains how a cue PTS was resolved against the timeline.
type SnapReason string

const (
	SnapExact    SnapReason = "exact"
	SnapFuture   SnapReason = "future"
	SnapPrevious SnapReason = "previous"
	SnapNone     SnapReason = "none"
)

// SnapDecision is the result of snapping a cue PTS to an IDR.
type SnapDecision struct {
	CuePTS     uint64
	SnappedPTS uint64
	Reason     SnapReason
}

// SnapValidation reports how far the snapped point sits from the cue.
type SnapValidation struct {
	WithinTolerance bool
	ErrorPTS        int64
	ErrorSeconds    float64
	SnappedAhead    bool
}

// Snap defaults: look two seconds ahead, accept half a second of error.
const (
	DefaultLookAheadPTS = 2 * PTSClock
	DefaultTolerancePTS = PTSClock / 2
)

// IDRTimeline records keyframe PTS values so splice points can be snapped
// to positions a decoder can actually start at. Not safe for concurrent
// use; the orchestrator guards one timeline per channel.
type IDRTimeline struct {
	frames []IDRFrame // sorted by PTS, unique
}

// NewIDRTimeline returns an empty timeline.
func NewIDRTimeline() *IDRTimeline {
	return &IDRTimeline{}
}

// Len returns the number of recorded keyframes.
func (tl *IDRTimeline) Len() int { return len(tl.frames) }

// Ingest merges frames into the timeline, deduplicating by PTS with
// encoder-sourced entries preferred on collision.
func (tl *IDRTimeline) Ingest(frames ...IDRFrame) {
	for _, f := range frames {
		idx := sort.Search(len(tl.frames), func(i int) bool { return tl.frames[i].PTS >= f.PTS })
		if idx < len(tl.frames) && tl.frames[idx].PTS == f.PTS {
			if tl.frames[idx].Source != SourceEncoder || f.Source == SourceEncoder {
				tl.frames[idx] = f
			}
			continue
		}
		tl.frames = append(tl.frames, IDRFrame{})
		copy(tl.frames[idx+1:], tl.frames[idx:])
		tl.frames[idx] = f
	}
	if over := len(tl.frames) - maxIDREntries; over > 0 {
		tl.frames = append(tl.frames[:0], tl.frames[over:]...)
	}
}

// Snap resolves cuePTS against the timeline:
// the first IDR at or after the cue wins if it is within lookAheadPTS;
// otherwise, with fallbackToPrevious, the greatest IDR before the cue.
func (tl *IDRTimeline) Snap(cuePTS uint64, lookAheadPTS uint64, fallbackToPrevious bool) SnapDecision {
	d := SnapDecision{CuePTS: cuePTS, SnappedPTS: cuePTS, Reason: SnapNone}
	if len(tl.frames) == 0 {
		return d
	}
	idx := sort.Search(len(tl.frames), func(i int) bool { return tl.frames[i].PTS >= cuePTS })
	if idx < len(tl.frames) {
		candidate := tl.frames[idx].PTS
		if candidate-cuePTS <= lookAheadPTS {
			d.SnappedPTS = candidate
			if candidate == cuePTS {
				d.Reason = SnapExact
			} else {
				d.Reason = SnapFuture
			}
			return d
		}
	}
	if fallbackToPrevious && idx > 0 {
		d.SnappedPTS = tl.frames[idx-1].PTS
		d.Reason = SnapPrevious
	}
	return d
}

// Validate measures the snap error against tolerancePTS (45000 ticks, half
// a second, when zero).
func Validate(d SnapDecision, tolerancePTS uint64) SnapValidation {
	if tolerancePTS == 0 {
		tolerancePTS = DefaultTolerancePTS
	}
	errPTS := int64(d.SnappedPTS) - int64(d.CuePTS)
	abs := errPTS
	if abs < 0 {
		abs = -abs
	}
	return SnapValidation{
		WithinTolerance: uint64(abs) <= tolerancePTS,
		ErrorPTS:        errPTS,
		ErrorSeconds:    float64(errPTS) / float64(PTSClock),
		SnappedAhead:    errPTS > 0,
	}
}
