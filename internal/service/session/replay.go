package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"voice-risk-service/internal/models"
)

// TimedTranscript is a transcript chunk at an offset into a recording.
type TimedTranscript struct {
	OffsetMs int64
	Text     string
	Final    bool
}

// TimelineEntry is one emitted update of an offline replay.
type TimelineEntry struct {
	OffsetMs int64             `json:"offsetMs"`
	Previous models.Label      `json:"previousLabel"`
	Update   models.RiskUpdate `json:"update"`
}

// ParseTranscriptScript reads "<offsetMs> <text>" lines. A text starting
// with "~" is an interim chunk. Blank lines and lines starting with "#" are
// skipped. The result is ordered by offset.
func ParseTranscriptScript(r io.Reader) ([]TimedTranscript, error) {
	var out []TimedTranscript
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		offset, text, ok := strings.Cut(raw, " ")
		if !ok {
			return nil, fmt.Errorf("line %d: expected \"<offsetMs> <text>\"", line)
		}
		ms, err := strconv.ParseInt(offset, 10, 64)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("line %d: invalid offset %q", line, offset)
		}
		text = strings.TrimSpace(text)
		final := !strings.HasPrefix(text, "~")
		text = strings.TrimPrefix(text, "~")
		out = append(out, TimedTranscript{OffsetMs: ms, Text: text, Final: final})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OffsetMs < out[j].OffsetMs })
	return out, nil
}

// Replay runs a recording and its transcript through a pipeline on a
// simulated clock, one analysis tick per TickInterval of audio, and returns
// every emitted update. pcm is LINEAR16 mono at cfg.Analyser.SampleRateHz.
func Replay(cfg Config, pcm io.Reader, script []TimedTranscript, opts ...Option) ([]TimelineEntry, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	cfg.Locale = models.ParseLocale(string(cfg.Locale))

	base := time.UnixMilli(0)
	var offset time.Duration
	opts = append(opts, WithClock(func() time.Time { return base.Add(offset) }))

	p, err := NewPipeline(cfg, opts...)
	if err != nil {
		return nil, err
	}

	var timeline []TimelineEntry
	record := func(step Step) {
		if step.Emit {
			timeline = append(timeline, TimelineEntry{
				OffsetMs: offset.Milliseconds(),
				Previous: step.Previous,
				Update:   step.Update,
			})
		}
	}

	next := 0
	feedTranscripts := func(until time.Duration) {
		for next < len(script) && script[next].OffsetMs <= until.Milliseconds() {
			record(p.Transcript(script[next].Text, script[next].Final))
			next++
		}
	}

	chunk := int(int64(cfg.Analyser.SampleRateHz) * 2 * int64(cfg.TickInterval) / int64(time.Second))
	chunk -= chunk % 2
	if chunk <= 0 {
		return nil, fmt.Errorf("%w: tick interval too short for %d Hz", ErrCaptureUnavailable, cfg.Analyser.SampleRateHz)
	}
	buf := make([]byte, chunk)

	for {
		n, err := io.ReadFull(pcm, buf)
		if n > 0 {
			offset += cfg.TickInterval
			feedTranscripts(offset)
			if werr := p.WriteAudio(buf[:n-n%2]); werr != nil {
				return timeline, werr
			}
			if step, ok := p.Tick(); ok {
				record(step)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return timeline, fmt.Errorf("read audio: %w", err)
		}
	}

	// Transcript beyond the end of the recording.
	for next < len(script) {
		offset = time.Duration(script[next].OffsetMs) * time.Millisecond
		feedTranscripts(offset)
	}
	return timeline, nil
}
