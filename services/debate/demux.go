// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debate

import (
	"strings"
)

// =============================================================================
// Stream Demultiplexer
// =============================================================================

// DeltaKind classifies a demultiplexed fragment.
type DeltaKind int

const (
	// DeltaContent is user-facing answer text.
	DeltaContent DeltaKind = iota
	// DeltaThinking is model-internal reasoning text found between
	// thinking markers.
	DeltaThinking
)

// Delta is one demultiplexed fragment, emitted in strict append order.
type Delta struct {
	Kind DeltaKind
	Text string
}

// MarkerPair is one open/close thinking delimiter pair.
type MarkerPair struct {
	Open  string
	Close string
}

// DefaultMarkers are the delimiter pairs emitted by the reasoning models we
// target. Both spellings occur in the wild, sometimes within one response.
var DefaultMarkers = []MarkerPair{
	{Open: "<think>", Close: "</think>"},
	{Open: "<thinking>", Close: "</thinking>"},
}

// DemuxResult is the final accounting returned by Close.
type DemuxResult struct {
	// Thinking and Content are the full accumulated halves of the stream,
	// equal to the concatenation of the corresponding deltas.
	Thinking string
	Content  string

	// TruncatedThinking is set when the stream ended inside a thinking
	// block (the close marker never arrived). The turn still succeeds.
	TruncatedThinking bool

	// FallbackUsed is set when the stream produced thinking but no
	// content, and the final coherent unit of the thinking text was
	// re-classified as content so the turn is never left empty.
	FallbackUsed bool
}

// demuxState is the parser state between Feed calls. There is no explicit
// "ambiguous" value: ambiguity is represented by a non-empty pending buffer
// whose suffix matches a marker prefix and is therefore withheld from
// emission until more input (or Close) resolves it.
type demuxState int

const (
	outsideThink demuxState = iota
	insideThink
)

// Demux splits one incremental model output stream into thinking and
// content deltas. Markers may arrive split across arbitrary chunk
// boundaries; a trailing partial marker match is buffered and re-examined
// on the next Feed rather than emitted, so marker text never leaks into
// either output. Feeding an input in any chunking yields the same final
// (thinking, content) pair as feeding it whole.
//
// Demux is not safe for concurrent use; each turn owns exactly one.
type Demux struct {
	markers []MarkerPair
	state   demuxState
	active  int // index into markers while insideThink
	pending string

	thinking strings.Builder
	content  strings.Builder

	closed    bool
	truncated bool
	fallback  bool
}

// NewDemux creates a demultiplexer over the default marker pairs.
func NewDemux() *Demux {
	return NewDemuxWithMarkers(DefaultMarkers)
}

// NewDemuxWithMarkers creates a demultiplexer over custom marker pairs.
// Pairs are matched earliest-occurrence-first; ties (one open marker a
// prefix of another, as with <think> / <thinking>) resolve to the longer
// match so "<thinking>" is never read as "<think>" followed by "ing>".
func NewDemuxWithMarkers(pairs []MarkerPair) *Demux {
	ms := make([]MarkerPair, len(pairs))
	copy(ms, pairs)
	return &Demux{markers: ms}
}

// Feed consumes one chunk and returns the deltas it resolves. A chunk may
// resolve zero deltas (entirely buffered as a possible marker) or several
// (text spanning marker transitions).
func (d *Demux) Feed(chunk string) []Delta {
	if d.closed || chunk == "" {
		return nil
	}
	d.pending += chunk
	return d.drain()
}

// drain repeatedly resolves the pending buffer until nothing unambiguous
// remains.
func (d *Demux) drain() []Delta {
	var out []Delta
	for {
		switch d.state {
		case outsideThink:
			idx, pair := d.findOpen()
			if idx >= 0 {
				out = d.emit(out, DeltaContent, d.pending[:idx])
				d.pending = d.pending[idx+len(d.markers[pair].Open):]
				d.state = insideThink
				d.active = pair
				continue
			}
			hold := d.partialSuffix(openMarkers(d.markers))
			out = d.emit(out, DeltaContent, d.pending[:len(d.pending)-hold])
			d.pending = d.pending[len(d.pending)-hold:]
			return out

		case insideThink:
			closeMark := d.markers[d.active].Close
			if idx := strings.Index(d.pending, closeMark); idx >= 0 {
				out = d.emit(out, DeltaThinking, d.pending[:idx])
				d.pending = d.pending[idx+len(closeMark):]
				d.state = outsideThink
				continue
			}
			hold := d.partialSuffix([]string{closeMark})
			out = d.emit(out, DeltaThinking, d.pending[:len(d.pending)-hold])
			d.pending = d.pending[len(d.pending)-hold:]
			return out
		}
	}
}

// findOpen locates the earliest full open marker in the pending buffer.
// Returns (-1, -1) when none is present. On a shared position the longest
// marker wins.
func (d *Demux) findOpen() (int, int) {
	best, bestPair := -1, -1
	for i, p := range d.markers {
		idx := strings.Index(d.pending, p.Open)
		if idx < 0 {
			continue
		}
		if best == -1 || idx < best ||
			(idx == best && len(p.Open) > len(d.markers[bestPair].Open)) {
			best, bestPair = idx, i
		}
	}
	return best, bestPair
}

// partialSuffix returns the length of the longest suffix of the pending
// buffer that is a proper prefix of any of the given markers. That suffix
// is ambiguous and must be withheld.
func (d *Demux) partialSuffix(marks []string) int {
	max := 0
	for _, m := range marks {
		limit := len(m) - 1
		if limit > len(d.pending) {
			limit = len(d.pending)
		}
		for n := limit; n > max; n-- {
			if strings.HasPrefix(m, d.pending[len(d.pending)-n:]) {
				max = n
				break
			}
		}
	}
	return max
}

func openMarkers(pairs []MarkerPair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Open
	}
	return out
}

// emit appends a delta and records it in the relevant accumulator.
// Empty text emits nothing.
func (d *Demux) emit(out []Delta, kind DeltaKind, text string) []Delta {
	if text == "" {
		return out
	}
	switch kind {
	case DeltaThinking:
		d.thinking.WriteString(text)
	case DeltaContent:
		d.content.WriteString(text)
	}
	return append(out, Delta{Kind: kind, Text: text})
}

// Close flushes any withheld text and returns the final accounting.
//
// If the stream ended inside a thinking block, the withheld text is kept
// on the thinking side and TruncatedThinking is set; it never reaches the
// content view. If the stream ended outside, a withheld partial open
// marker turned out to be plain text and is flushed as content.
//
// If the stream produced thinking but no content at all, the final
// coherent unit of the thinking text (last paragraph, falling back to the
// last sentence run) is re-classified as one content delta so downstream
// consumers never see an empty answer from a model that only thought out
// loud. Close is idempotent; later calls return the same result with no
// deltas.
func (d *Demux) Close() ([]Delta, DemuxResult) {
	if d.closed {
		return nil, d.result()
	}
	d.closed = true

	var out []Delta
	truncated := false
	if d.pending != "" {
		if d.state == insideThink {
			out = d.emit(out, DeltaThinking, d.pending)
		} else {
			out = d.emit(out, DeltaContent, d.pending)
		}
		d.pending = ""
	}
	if d.state == insideThink {
		truncated = true
	}

	fallback := false
	if strings.TrimSpace(d.content.String()) == "" && strings.TrimSpace(d.thinking.String()) != "" {
		if unit := lastCoherentUnit(d.thinking.String()); unit != "" {
			out = d.emit(out, DeltaContent, unit)
			fallback = true
		}
	}

	res := d.result()
	res.TruncatedThinking = truncated
	res.FallbackUsed = fallback
	d.truncated, d.fallback = truncated, fallback
	return out, res
}

func (d *Demux) result() DemuxResult {
	return DemuxResult{
		Thinking:          d.thinking.String(),
		Content:           d.content.String(),
		TruncatedThinking: d.truncated,
		FallbackUsed:      d.fallback,
	}
}

// lastCoherentUnit extracts the final paragraph of text; when the text is
// a single paragraph, the final run of sentences up to a small budget.
func lastCoherentUnit(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	paras := strings.Split(text, "\n\n")
	for i := len(paras) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(paras[i]); p != "" {
			if len(p) > maxFallbackLen {
				p = p[len(p)-maxFallbackLen:]
				// Avoid starting mid-sentence when we can help it.
				if idx := strings.IndexAny(p, ".!?"); idx >= 0 && idx+1 < len(p) {
					p = strings.TrimSpace(p[idx+1:])
				}
			}
			return p
		}
	}
	return ""
}

// maxFallbackLen caps the re-classified fallback answer.
const maxFallbackLen = 600
