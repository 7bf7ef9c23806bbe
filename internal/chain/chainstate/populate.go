// Package chainstate populates the consensus activation state (chain_state)
// active at a given branch tip: soft-fork flags and retarget parameters
// (spec.md §4.3).
package chainstate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nodecore/blockorganizer/internal/chain/branch"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/nodecore/blockorganizer/internal/chain/work"
)

const (
	// medianTimeSpan is the number of ancestor blocks whose timestamps are
	// sorted to compute median-time-past.
	medianTimeSpan = 11
	// retargetSpan is the window over which the next-block difficulty is
	// recomputed, mirroring Bitcoin mainnet's 2016-block retarget window.
	retargetSpan = 2016
	// retargetTimespanSeconds is the target real time retargetSpan blocks
	// should have taken (14 days at 10 minutes/block).
	retargetTimespanSeconds = retargetSpan * 10 * 60
)

// Ancestors abstracts reading headers below the fork point, so the
// populator reads from the branch first and falls through to the fast
// chain store for ancestors the branch doesn't cover.
type Ancestors interface {
	// HeaderAt returns the header and bits at absolute height h.
	HeaderAt(ctx context.Context, h int32) (timestamp time.Time, bits uint32, ok bool)
}

// Settings carries the network's fixed consensus parameters: the minimum
// difficulty (powLimitBits) and the heights at which each soft fork
// activates.
type Settings struct {
	PowLimitBits      uint32
	ActivationHeights map[model.ForkFlag]int32
}

// Populator derives model.ChainState values.
type Populator struct {
	settings  Settings
	ancestors Ancestors
}

// New builds a Populator.
func New(settings Settings, ancestors Ancestors) *Populator {
	return &Populator{settings: settings, ancestors: ancestors}
}

// PopulateBranch produces the chain_state active at branch's top, given the
// last known tip state (previous), which may be nil if none is cached yet.
func (p *Populator) PopulateBranch(ctx context.Context, previous *model.ChainState, b *branch.Branch) (*model.ChainState, error) {
	targetHeight := b.TopHeight()

	if promoted := p.tryPromote(previous, targetHeight, b.Top().Header.Timestamp); promoted != nil {
		return promoted, nil
	}
	return p.regenerate(ctx, targetHeight, b)
}

// PopulateHeight produces the chain_state active at height h directly from
// the store, with no branch involved (used for store.insert's bulk path).
func (p *Populator) PopulateHeight(ctx context.Context, previous *model.ChainState, h int32) (*model.ChainState, error) {
	if previous != nil && h == previous.Height+1 {
		newTipTime, _, ok := p.ancestors.HeaderAt(ctx, previous.Height)
		if ok {
			if promoted := p.tryPromote(previous, h, newTipTime); promoted != nil {
				return promoted, nil
			}
		}
	}
	return p.regenerate(ctx, h, nil)
}

// tryPromote implements the fast path: if previous exists and targetHeight
// is exactly previous.Height+1, the fork activation window at targetHeight
// is identical to previous's widened by at most one height, so the
// median-time-past window can be shifted forward by one block (drop the
// oldest timestamp, insert newTipTimestamp) instead of re-walking
// retargetSpan ancestors. newTipTimestamp is the timestamp of the block at
// targetHeight-1 (previous's own tip), which the caller already has to
// hand without an extra ancestor read.
func (p *Populator) tryPromote(previous *model.ChainState, targetHeight int32, newTipTimestamp time.Time) *model.ChainState {
	if previous == nil || targetHeight != previous.Height+1 {
		return nil
	}
	if targetHeight%retargetSpan == 0 {
		// A promotion can still land on a retarget boundary; that case
		// needs the full ancestor walk, so decline the fast path.
		return nil
	}
	// The fork set only ever grows; re-check membership at the new height
	// against the configured activation heights, which is cheap (a map
	// scan), rather than a full ancestor walk.
	forks := previous.Forks
	for flag, h := range p.settings.ActivationHeights {
		if targetHeight >= h {
			forks |= flag
		}
	}
	window := shiftMedianWindow(previous.MedianWindow, newTipTimestamp)
	return &model.ChainState{
		Height:            targetHeight,
		Forks:             forks,
		WorkRequired:      previous.WorkRequired,
		MedianTimePast:    median(window),
		ActivationHeights: p.settings.ActivationHeights,
		MedianWindow:      window,
	}
}

// shiftMedianWindow drops the oldest timestamp once the window is full and
// appends newTip, keeping window oldest-first.
func shiftMedianWindow(window []time.Time, newTip time.Time) []time.Time {
	next := make([]time.Time, 0, medianTimeSpan)
	start := 0
	if len(window) >= medianTimeSpan {
		start = len(window) - medianTimeSpan + 1
	}
	next = append(next, window[start:]...)
	next = append(next, newTip)
	return next
}

// regenerate walks up to retargetSpan ancestors via Ancestors, reading
// from the branch first and falling through to the store for heights at or
// below the fork point.
func (p *Populator) regenerate(ctx context.Context, targetHeight int32, b *branch.Branch) (*model.ChainState, error) {
	read := p.readerFor(b)

	timestamps := make([]time.Time, 0, medianTimeSpan)
	for h := targetHeight - 1; h >= 0 && len(timestamps) < medianTimeSpan; h-- {
		ts, _, ok := read(ctx, h)
		if !ok {
			break
		}
		timestamps = append(timestamps, ts)
	}
	medianTime := median(timestamps)
	window := make([]time.Time, len(timestamps))
	for i, ts := range timestamps {
		window[len(timestamps)-1-i] = ts // reverse: read newest-first, store oldest-first
	}

	workRequired, err := p.nextWorkRequired(ctx, targetHeight, read)
	if err != nil {
		return nil, err
	}

	forks := model.ForkFlag(0)
	for flag, h := range p.settings.ActivationHeights {
		if targetHeight >= h {
			forks |= flag
		}
	}

	return &model.ChainState{
		Height:            targetHeight,
		Forks:             forks,
		WorkRequired:      workRequired,
		MedianTimePast:    medianTime,
		ActivationHeights: p.settings.ActivationHeights,
		MedianWindow:      window,
	}, nil
}

type headerReader func(ctx context.Context, h int32) (time.Time, uint32, bool)

// readerFor builds a header reader that consults the branch for heights
// above its fork point, and falls through to the store (p.ancestors) for
// heights at or below the fork point.
func (p *Populator) readerFor(b *branch.Branch) headerReader {
	if b == nil {
		return p.ancestors.HeaderAt
	}
	_, forkHeight := b.ForkPoint()
	blocks := b.Blocks()
	return func(ctx context.Context, h int32) (time.Time, uint32, bool) {
		if h > forkHeight {
			idx := int(h - forkHeight - 1)
			if idx >= 0 && idx < len(blocks) {
				hdr := blocks[idx].Header
				return hdr.Timestamp, hdr.Bits, true
			}
			return time.Time{}, 0, false
		}
		return p.ancestors.HeaderAt(ctx, h)
	}
}

func median(ts []time.Time) time.Time {
	if len(ts) == 0 {
		return time.Time{}
	}
	sorted := make([]time.Time, len(ts))
	copy(sorted, ts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return sorted[len(sorted)/2]
}

// nextWorkRequired computes the compact difficulty bits for targetHeight.
// On a retarget boundary it rescales the previous target by the ratio of
// actual-to-expected timespan over the last retargetSpan blocks, clamped to
// [timespan/4, timespan*4] as Bitcoin mainnet does; otherwise it carries
// the previous block's bits forward unchanged.
func (p *Populator) nextWorkRequired(ctx context.Context, targetHeight int32, read headerReader) (uint32, error) {
	if targetHeight == 0 {
		return p.settings.PowLimitBits, nil
	}
	_, prevBits, ok := read(ctx, targetHeight-1)
	if !ok {
		return 0, fmt.Errorf("chainstate: missing ancestor header at height %d", targetHeight-1)
	}
	if targetHeight%retargetSpan != 0 {
		return prevBits, nil
	}

	firstHeight := targetHeight - retargetSpan
	firstTime, _, ok := read(ctx, firstHeight)
	if !ok {
		return 0, fmt.Errorf("chainstate: missing retarget window start at height %d", firstHeight)
	}
	lastTime, _, ok := read(ctx, targetHeight-1)
	if !ok {
		return 0, fmt.Errorf("chainstate: missing retarget window end at height %d", targetHeight-1)
	}

	actualTimespan := lastTime.Sub(firstTime).Seconds()
	minTimespan := float64(retargetTimespanSeconds) / 4
	maxTimespan := float64(retargetTimespanSeconds) * 4
	if actualTimespan < minTimespan {
		actualTimespan = minTimespan
	}
	if actualTimespan > maxTimespan {
		actualTimespan = maxTimespan
	}

	target := work.Target(prevBits)
	target.Mul(target, bigFromSeconds(actualTimespan))
	target.Div(target, bigFromSeconds(float64(retargetTimespanSeconds)))

	powLimit := work.Target(p.settings.PowLimitBits)
	if target.Cmp(powLimit) > 0 {
		target = powLimit
	}
	return work.Compact(target), nil
}
