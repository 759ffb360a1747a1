// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vidstitch/adproxy/pkg/hls"
	"github.com/vidstitch/adproxy/pkg/scte35"
	"github.com/vidstitch/adproxy/pkg/signer"
	"github.com/vidstitch/adproxy/pkg/timeline"
)

// rewriteDeadline bounds one whole rewrite. Exceeding it takes the legacy
// discontinuity fallback.
const rewriteDeadline = 3 * time.Second

const (
	interstitialClass = "com.apple.hls.interstitial"
	returnClass       = "com.apple.hls.scte35.in"
	playoutControls   = "skip-restrictions=6"
)

// RewriteMode selects the insertion strategy.
type RewriteMode string

const (
	ModeCSI  RewriteMode = "csi"
	ModeSSAI RewriteMode = "ssai"
)

// channelState is the per-channel runtime timeline state fed by the
// transcoder's IDR reports.
type channelState struct {
	mu       sync.Mutex
	mapper   *timeline.PTSMapper
	idr      *timeline.IDRTimeline
	lastDisc string // URI following the last seen discontinuity
}

func newChannelState() *channelState {
	return &channelState{mapper: timeline.NewPTSMapper(), idr: timeline.NewIDRTimeline()}
}

// RewriteInput is one playlist rewrite request.
type RewriteInput struct {
	Channel        *ChannelConfig
	Playlist       *hls.MediaPlaylist
	Variant        string
	BitrateBPS     int
	Mode           RewriteMode
	Viewer         Viewer
	ContentInitURL string
}

// Rewriter composes the break store, decision client, skip planner, and
// signer into the per-request manifest rewrite.
type Rewriter struct {
	breaks     BreakStore
	decisions  *DecisionClient
	beacons    BeaconSink
	signSecret []byte
	signTTL    time.Duration
	state      func(channelID string) *channelState
	now        func() time.Time

	// containersMatch decides whether the SSAI splice can omit the
	// discontinuity markers. The default consults init segments.
	containersMatch func(ctx context.Context, in RewriteInput, pod *Pod) bool
}

func NewRewriter(breaks BreakStore, decisions *DecisionClient, beacons BeaconSink,
	signSecret []byte, signTTL time.Duration, state func(string) *channelState,
	matcher *containerMatcher) *Rewriter {
	rw := &Rewriter{
		breaks:     breaks,
		decisions:  decisions,
		beacons:    beacons,
		signSecret: signSecret,
		signTTL:    signTTL,
		state:      state,
		now:        time.Now,
	}
	rw.containersMatch = func(ctx context.Context, in RewriteInput, pod *Pod) bool {
		if matcher == nil || in.ContentInitURL == "" || len(pod.Items) == 0 {
			return false
		}
		adInit := initURLForItem(pod.Items[0])
		return matcher.Match(ctx, in.ContentInitURL, adInit)
	}
	return rw
}

// initURLForItem guesses the ad init segment next to the item's playlist.
func initURLForItem(it PodItem) string {
	idx := strings.LastIndex(it.PlaylistURL, "/")
	if idx < 0 {
		return ""
	}
	return it.PlaylistURL[:idx+1] + "init.mp4"
}

// Rewrite runs the full pipeline on one playlist. The returned string is
// always a servable playlist; failures degrade along the fallback ladder
// (slate pod, legacy discontinuity, origin verbatim).
func (rw *Rewriter) Rewrite(ctx context.Context, in RewriteInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, rewriteDeadline)
	defer cancel()

	ch := in.Channel
	pl := in.Playlist
	originText := pl.Encode()
	log := slog.Default().With("channel", ch.ID, "variant", in.Variant)

	st := rw.state(ch.ID)
	rw.resetMapperOnDiscontinuity(st, pl)

	sig, ok := rw.findBreakSignal(ch, pl)
	if !ok {
		return rw.rewriteFromActiveBreak(ctx, in, originText, log)
	}
	if sig.Signal.IsAdBreakEnd() {
		return originText, nil
	}

	startPDT, markerIdx, ok := breakMarker(pl, sig)
	if !ok {
		log.Info("break signal without PDT marker, passing through")
		countFallback("marker_not_found")
		return originText, nil
	}
	duration := sig.Signal.DurationSec
	if duration <= 0 {
		duration = ch.DefaultAdDuration
	}
	if duration <= 0 {
		return originText, nil
	}
	eventID := breakEventID(sig, startPDT)

	rw.snapTelemetry(st, sig, log)

	// Pinning: the first request to observe the break freezes pod and
	// skip count; everyone else reads the pinned state.
	bs, err := rw.breaks.Pin(ctx, ch.ID, eventID, func() (*BreakState, error) {
		pod := rw.decisions.Decide(ctx, ch, duration, in.Viewer)
		bs := &BreakState{
			EventID:              eventID,
			StartPDT:             startPDT,
			EndPDT:               startPDT.Add(time.Duration(duration*1000) * time.Millisecond),
			DurationSec:          duration,
			PinnedPodFingerprint: pod.Fingerprint(),
			PinnedPod:            pod,
		}
		if plan, perr := ComputeSkipPlan(pl, markerIdx, duration, 0); perr == nil {
			bs.PinnedSkipCount = plan.SegmentsSkipped
			if !plan.ResumePDTObserved {
				bs.PinnedResumePDT = plan.ResumePDT
			}
		}
		return bs, nil
	})
	if err != nil {
		log.Error("break pin failed", "err", err)
		countFallback("pin")
		return rw.legacyFallback(pl), nil
	}
	return rw.insert(ctx, in, bs, markerIdx, originText, log)
}

// rewriteFromActiveBreak re-applies a pinned break when the playlist no
// longer carries the signal (markers age out of live windows quickly).
func (rw *Rewriter) rewriteFromActiveBreak(ctx context.Context, in RewriteInput,
	originText string, log *slog.Logger) (string, error) {
	bs, err := rw.breaks.FindActive(ctx, in.Channel.ID, rw.now())
	if err != nil {
		log.Warn("break store lookup failed", "err", err)
		return originText, nil
	}
	if bs == nil {
		return originText, nil
	}
	markerIdx := -1
	for i, l := range in.Playlist.Lines {
		if l.Kind != hls.KindPDT {
			continue
		}
		if t, ok := l.PDT(); ok && !t.Before(bs.StartPDT) {
			markerIdx = i
			break
		}
	}
	if markerIdx < 0 {
		return originText, nil
	}
	return rw.insert(ctx, in, bs, markerIdx, originText, log)
}

// insert applies the pinned break to the playlist in the selected mode.
func (rw *Rewriter) insert(ctx context.Context, in RewriteInput, bs *BreakState,
	markerIdx int, originText string, log *slog.Logger) (string, error) {
	pod := bs.PinnedPod
	if pod == nil || len(pod.ItemsForBitrate(in.BitrateBPS)) == 0 {
		log.Warn("no usable pod for break", "event", bs.EventID)
		countFallback("empty_pod")
		return rw.legacyFallback(in.Playlist), nil
	}
	if ctx.Err() != nil {
		log.Error("rewrite deadline exceeded", "event", bs.EventID)
		countFallback("deadline")
		return rw.legacyFallback(in.Playlist), nil
	}

	var out string
	var err error
	switch in.Mode {
	case ModeCSI:
		out, err = rw.rewriteCSI(in, bs, markerIdx)
	default:
		out, err = rw.rewriteSSAI(ctx, in, bs, markerIdx)
	}
	if err != nil {
		switch {
		case errors.Is(err, errWindowRolledOut):
			log.Info("skip plan infeasible", "event", bs.EventID, "reason", "WindowRolledOut")
		case errors.Is(err, errNoSegmentsToSkip):
			log.Info("skip plan infeasible", "event", bs.EventID, "reason", "NoSegmentsToSkip")
		case errors.Is(err, errMarkerNotFound):
			log.Info("skip plan infeasible", "event", bs.EventID, "reason", "MarkerNotFound")
		default:
			log.Error("rewrite failed", "event", bs.EventID, "err", err)
		}
		countFallback("skip_plan")
		return originText, nil
	}
	rw.emitImpressions(ctx, in, bs)
	return out, nil
}

// findBreakSignal returns the first break-opening signal in the window,
// then the first break-closing one, or a synthetic cue from the fallback
// schedule. Informational signals (program markers, chapter points) never
// trigger insertion; a pinned break still applies via the store lookup.
func (rw *Rewriter) findBreakSignal(ch *ChannelConfig, pl *hls.MediaPlaylist) (hls.IndexedSignal, bool) {
	signals := hls.ExtractSignals(pl)
	for _, is := range signals {
		if is.Signal.IsAdBreakStart() {
			return is, true
		}
	}
	for _, is := range signals {
		if is.Signal.IsAdBreakEnd() {
			return is, true
		}
	}
	if len(signals) == 0 {
		if cue, ok := nextFallbackCue(ch, pl); ok {
			if is, ok := signalFromFallbackCue(cue, pl); ok {
				return is, true
			}
		}
	}
	return hls.IndexedSignal{}, false
}

// breakMarker resolves the PDT marker line for a signal: the first PDT at
// or after the cue start date. A cue dated beyond the live window has no
// marker yet and must pass through until a segment reaches it. Signals
// without a parseable start date anchor at the first PDT at or after the
// signal line, else the last PDT before it.
func breakMarker(pl *hls.MediaPlaylist, sig hls.IndexedSignal) (time.Time, int, bool) {
	var start time.Time
	haveStart := false
	if sig.Signal.DateRange != nil {
		if t, ok := hls.ParsePDT(sig.Signal.DateRange.StartDate); ok {
			start = t
			haveStart = true
		}
	}
	lastIdx := -1
	var lastPDT time.Time
	for i, l := range pl.Lines {
		if l.Kind != hls.KindPDT {
			continue
		}
		t, ok := l.PDT()
		if !ok {
			continue
		}
		if haveStart {
			if !t.Before(start) {
				return start, i, true
			}
			continue
		}
		if i >= sig.LineIndex {
			return t, i, true
		}
		lastIdx, lastPDT = i, t
	}
	if haveStart || lastIdx < 0 {
		return time.Time{}, -1, false
	}
	return lastPDT, lastIdx, true
}

// breakEventID derives a stable event id for pinning.
func breakEventID(sig hls.IndexedSignal, startPDT time.Time) string {
	if sig.Signal.ID != "" {
		return sig.Signal.ID
	}
	if b := sig.Signal.Binary; b != nil {
		if si, ok := b.Command.(*scte35.SpliceInsert); ok {
			return fmt.Sprintf("evt-%d", si.SpliceEventID)
		}
	}
	return fmt.Sprintf("evt-%d", startPDT.Unix())
}

// snapTelemetry records the IDR snap for cues that carry a PTS. The snap
// informs debugging only; skip counting stays PDT-driven.
func (rw *Rewriter) snapTelemetry(st *channelState, sig hls.IndexedSignal, log *slog.Logger) {
	if sig.Signal.PTS == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.idr.Len() == 0 {
		return
	}
	d := st.idr.Snap(*sig.Signal.PTS, timeline.DefaultLookAheadPTS, true)
	v := timeline.Validate(d, timeline.DefaultTolerancePTS)
	log.Debug("cue snapped to IDR",
		"cue_pts", d.CuePTS, "snapped_pts", d.SnappedPTS, "reason", string(d.Reason),
		"error_s", v.ErrorSeconds, "within_tolerance", v.WithinTolerance)
}

// resetMapperOnDiscontinuity resets the PTS↔PDT fit when a new
// discontinuity enters the window.
func (rw *Rewriter) resetMapperOnDiscontinuity(st *channelState, pl *hls.MediaPlaylist) {
	marker := ""
	for i, l := range pl.Lines {
		if l.Kind != hls.KindDiscontinuity {
			continue
		}
		for j := i + 1; j < len(pl.Lines); j++ {
			if pl.Lines[j].Kind == hls.KindURI {
				marker = pl.Lines[j].Raw
				break
			}
		}
	}
	if marker == "" {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if marker != st.lastDisc {
		st.lastDisc = marker
		st.mapper.Reset()
	}
}

// rewriteSSAI splices the pod into the playlist in place of the skipped
// origin segments.
func (rw *Rewriter) rewriteSSAI(ctx context.Context, in RewriteInput, bs *BreakState, markerIdx int) (string, error) {
	pl := in.Playlist
	plan, err := ComputeSkipPlan(pl, markerIdx, bs.DurationSec, bs.PinnedSkipCount)
	if err != nil {
		return "", err
	}
	resumePDT := plan.ResumePDT
	if !plan.ResumePDTObserved && bs.PinnedResumePDT != "" {
		resumePDT = bs.PinnedResumePDT
	}
	if !plan.ResumePDTObserved {
		slog.Info("PDTSynthesised", "channel", in.Channel.ID, "event", bs.EventID,
			"resume_pdt", resumePDT)
	}

	pod := bs.PinnedPod
	items := pod.ItemsForBitrate(in.BitrateBPS)
	match := rw.containersMatch(ctx, in, pod)

	out := hls.MediaPlaylist{}
	out.Lines = append(out.Lines, pl.Lines[:markerIdx+1]...)
	if !match {
		out.Lines = append(out.Lines, hls.DiscontinuityLine())
	}
	adDur := 0.0
	for _, it := range items {
		out.Lines = append(out.Lines, hls.InfLine(it.DurationSec))
		out.Lines = append(out.Lines, hls.URILine(rw.signURL(in.Channel, it.PlaylistURL)))
		adDur += it.DurationSec
	}
	if !match {
		out.Lines = append(out.Lines, hls.DiscontinuityLine())
	}
	out.Lines = append(out.Lines, hls.Line{Kind: hls.KindPDT,
		Raw: hls.TagPDT + resumePDT})
	out.Lines = append(out.Lines, hls.Line{Kind: hls.KindDateRange,
		Raw: returnDateRange(bs, plan, adDur, match)})
	out.Lines = append(out.Lines, pl.Lines[plan.ResumeContentIndex:]...)
	out.SetTrailingNewline(pl.TrailingNewline())
	return out.Encode(), nil
}

// returnDateRange renders the closing telemetry tag of an SSAI splice.
func returnDateRange(bs *BreakState, plan *SkipPlan, adDur float64, containersMatch bool) string {
	status := "spliced"
	if !plan.ResumePDTObserved {
		status = "spliced-synth-pdt"
	}
	return fmt.Sprintf(
		"%sID=%s,CLASS=%s,START-DATE=%s,SCTE35-IN=YES,DURATION=0.000,"+
			"X-PLANNED-DURATION=%.3f,X-ACTUAL-AD-DURATION=%.3f,"+
			"X-ACTUAL-CONTENT-DURATION=%.3f,X-DURATION-ERROR=%.3f,"+
			"X-CUE-STATUS=%s,X-PID-CONTINUITY=%s",
		hls.TagDateRange,
		hls.QuoteAttr(bs.EventID+"-return"),
		hls.QuoteAttr(returnClass),
		hls.QuoteAttr(plan.ResumePDT),
		bs.DurationSec,
		adDur,
		plan.DurationSkipped,
		adDur-plan.DurationSkipped,
		hls.QuoteAttr(status),
		hls.QuoteAttr(fmt.Sprintf("%t", containersMatch)))
}

// rewriteCSI annotates the playlist with interstitial date ranges and the
// legacy cue tag pair; no segments are touched.
func (rw *Rewriter) rewriteCSI(in RewriteInput, bs *BreakState, markerIdx int) (string, error) {
	pl := in.Playlist
	pod := bs.PinnedPod
	startISO := hls.FormatPDT(bs.StartPDT)
	endISO := hls.FormatPDT(bs.StartPDT.Add(time.Duration(bs.DurationSec*1000) * time.Millisecond))

	assetURI := rw.podMasterURL(in.Channel, pod)
	scteHex := cueHex(in, bs)

	cueOut := fmt.Sprintf("%sID=%s,CLASS=%s,START-DATE=%s,DURATION=%.3f,X-ASSET-URI=%s,X-PLAYOUT-CONTROLS=%s",
		hls.TagDateRange, hls.QuoteAttr(bs.EventID), hls.QuoteAttr(interstitialClass),
		hls.QuoteAttr(startISO), bs.DurationSec, hls.QuoteAttr(assetURI),
		hls.QuoteAttr(playoutControls))
	if scteHex != "" {
		cueOut += ",SCTE35-OUT=" + scteHex
	}
	cueIn := fmt.Sprintf("%sID=%s,CLASS=%s,START-DATE=%s,DURATION=0.000,END-ON-NEXT=YES",
		hls.TagDateRange, hls.QuoteAttr(bs.EventID+":complete"),
		hls.QuoteAttr(interstitialClass), hls.QuoteAttr(endISO))
	if scteHex != "" {
		cueIn += ",SCTE35-IN=" + scteHex
	}
	legacyOut := fmt.Sprintf("#EXT-X-CUE-OUT:DURATION=%.3f", bs.DurationSec)
	if scteHex != "" {
		legacyOut += ",SCTE35=" + scteHex
	}

	insertAt := markerIdx
	if insertAt < 0 || insertAt >= len(pl.Lines) {
		insertAt = len(pl.Lines) - 6
		if insertAt < 1 {
			insertAt = len(pl.Lines)
		}
	}
	cueLines := []hls.Line{
		{Kind: hls.KindDateRange, Raw: cueOut},
		{Kind: hls.KindDateRange, Raw: cueIn},
		{Kind: hls.KindTag, Raw: legacyOut},
	}

	// Legacy cue-in goes after the segments the break covers.
	cueInAt := len(pl.Lines)
	covered := 0.0
	lastInf := 0.0
	for i := insertAt; i < len(pl.Lines); i++ {
		switch pl.Lines[i].Kind {
		case hls.KindInf:
			lastInf = pl.Lines[i].Duration()
		case hls.KindURI:
			covered += lastInf
			lastInf = 0
			if covered >= bs.DurationSec {
				cueInAt = i + 1
			}
		}
		if cueInAt != len(pl.Lines) {
			break
		}
	}

	out := hls.MediaPlaylist{}
	out.Lines = append(out.Lines, pl.Lines[:insertAt]...)
	out.Lines = append(out.Lines, cueLines...)
	out.Lines = append(out.Lines, pl.Lines[insertAt:cueInAt]...)
	out.Lines = append(out.Lines, hls.Line{Kind: hls.KindTag, Raw: "#EXT-X-CUE-IN"})
	out.Lines = append(out.Lines, pl.Lines[cueInAt:]...)
	out.SetTrailingNewline(pl.TrailingNewline())
	return out.Encode(), nil
}

// cueHex renders the SCTE-35 payload for outgoing tags as lowercase 0x hex.
// The enum form YES expands to 0x0.
func cueHex(in RewriteInput, bs *BreakState) string {
	sigs := hls.ExtractSignals(in.Playlist)
	for _, is := range sigs {
		dr := is.Signal.DateRange
		if dr == nil {
			continue
		}
		for _, v := range []string{dr.SCTE35Out, dr.SCTE35Cmd} {
			switch {
			case v == "":
			case v == "YES" || v == "NO":
				return "0x0"
			default:
				return strings.ToLower(v)
			}
		}
	}
	return ""
}

// podMasterURL is the signed master playlist URL of the pod, served from
// the channel's ad pod base.
func (rw *Rewriter) podMasterURL(ch *ChannelConfig, pod *Pod) string {
	raw := fmt.Sprintf("%s/pods/%s/master.m3u8", ch.AdPodBaseURL, pod.PodID)
	return rw.signURL(ch, raw)
}

// signURL signs an ad URL with the channel's sign host. Unsigned setups and
// unparseable URLs pass through unchanged.
func (rw *Rewriter) signURL(ch *ChannelConfig, raw string) string {
	if len(rw.signSecret) == 0 {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := u.Host
	if host == "" {
		host = ch.SignHost
	}
	if host == "" || !strings.HasPrefix(u.Path, "/") {
		return raw
	}
	signed, err := signer.Sign(host, rw.signSecret, u.Path, rw.signTTL, "")
	if err != nil {
		return raw
	}
	return signed
}

// legacyFallback is the bottom rung of the ladder: a single discontinuity
// before the live edge.
func (rw *Rewriter) legacyFallback(pl *hls.MediaPlaylist) string {
	pl.InsertDiscontinuity()
	return pl.Encode()
}

// emitImpressions hands imp beacons for each inserted ad to the transport.
func (rw *Rewriter) emitImpressions(ctx context.Context, in RewriteInput, bs *BreakState) {
	pod := bs.PinnedPod
	if rw.beacons == nil || pod == nil {
		return
	}
	var trackers []string
	if pod.Tracking != nil {
		trackers = pod.Tracking.Impressions
	}
	// ts_ms pins to the break start so concurrent variant requests dedup
	// to one beacon per ad.
	tsMS := bs.StartPDT.UnixMilli()
	for _, it := range pod.ItemsForBitrate(in.BitrateBPS) {
		rw.beacons.Emit(ctx, Beacon{
			Event:       BeaconImp,
			AdID:        it.AdID,
			PodID:       pod.PodID,
			Channel:     in.Channel.ID,
			TSMS:        tsMS,
			TrackerURLs: trackers,
			Metadata: &BeaconMetadata{
				Variant:        in.Variant,
				BitrateBPS:     in.BitrateBPS,
				VASTAdID:       pod.VASTAdID,
				VASTCreativeID: pod.VASTCreativeID,
			},
		})
	}
}
