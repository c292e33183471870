// Package sensor reads line-delimited sample frames from a serial-attached
// capture frontend and assembles them into per-minute sample windows. Frames
// never leave this package; only assembled windows are handed to the
// descriptor pipeline.
package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/monitoring"
	"github.com/avsafe-data/avsafe.report/internal/pipeline"
)

// Channel names accepted on the wire.
const (
	ChannelAudio = "audio"
	ChannelLight = "light"
)

// maxFrameBytes bounds a single frame line. A one-second audio frame at
// 48 kHz with full float formatting stays well under this.
const maxFrameBytes = 4 << 20

// Frame is one line of the wire protocol: a burst of samples from a single
// channel, stamped with its capture time and acquisition rate.
type Frame struct {
	TS      time.Time `json:"ts"`
	Channel string    `json:"ch"`
	RateHz  float64   `json:"rate_hz"`
	Samples []float64 `json:"samples"`
}

func (f Frame) validate() error {
	if f.Channel != ChannelAudio && f.Channel != ChannelLight {
		return fmt.Errorf("unknown channel %q", f.Channel)
	}
	if f.TS.IsZero() {
		return fmt.Errorf("%s frame: zero timestamp", f.Channel)
	}
	if f.RateHz <= 0 {
		return fmt.Errorf("%s frame: non-positive rate %v", f.Channel, f.RateHz)
	}
	if len(f.Samples) == 0 {
		return fmt.Errorf("%s frame: no samples", f.Channel)
	}
	return nil
}

// Source turns the frame stream from one port into minute windows.
type Source struct {
	port Porter
}

func NewSource(port Porter) *Source {
	return &Source{port: port}
}

// pending accumulates frames for the minute starting at ts.
type pending struct {
	ts    time.Time
	audio minute.SampleWindow
	light minute.SampleWindow
}

func (p *pending) add(f Frame) error {
	w := &p.audio
	if f.Channel == ChannelLight {
		w = &p.light
	}
	if len(w.Samples) > 0 && w.SampleRate != f.RateHz {
		return fmt.Errorf("%s rate changed mid-minute: %v then %v", f.Channel, w.SampleRate, f.RateHz)
	}
	w.SampleRate = f.RateHz
	w.Samples = append(w.Samples, f.Samples...)
	return nil
}

func (p *pending) window() pipeline.Window {
	win := pipeline.Window{TS: p.ts}
	if len(p.audio.Samples) > 0 {
		a := p.audio
		win.Audio = &a
	}
	if len(p.light.Samples) > 0 {
		l := p.light
		win.Light = &l
	}
	return win
}

// Run reads frames until the port is exhausted or ctx is cancelled, sending
// each completed minute window to out. Malformed lines and out-of-order
// frames are logged and dropped; they never abort the stream. The partially
// filled final minute is flushed before returning. Run does not close out.
func (s *Source) Run(ctx context.Context, out chan<- pipeline.Window) error {
	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	lineChan := make(chan []byte)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop
	// can await lines and context cancellation together.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			line := make([]byte, len(scan.Bytes()))
			copy(line, scan.Bytes())
			select {
			case lineChan <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	var cur *pending
	flush := func() error {
		if cur == nil {
			return nil
		}
		win := cur.window()
		cur = nil
		if win.Audio == nil && win.Light == nil {
			return nil
		}
		select {
		case out <- win:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return fmt.Errorf("sensor: read: %w", err)

		case line, ok := <-lineChan:
			if !ok {
				return flush()
			}
			var f Frame
			if err := json.Unmarshal(line, &f); err != nil {
				monitoring.Logf("sensor: drop malformed frame: %v", err)
				continue
			}
			if err := f.validate(); err != nil {
				monitoring.Logf("sensor: drop frame: %v", err)
				continue
			}

			start := f.TS.UTC().Truncate(time.Minute)
			if cur != nil && start.Before(cur.ts) {
				monitoring.Logf("sensor: drop late %s frame at %s (current minute %s)",
					f.Channel, f.TS.UTC().Format(time.RFC3339), cur.ts.Format(time.RFC3339))
				continue
			}
			if cur != nil && start.After(cur.ts) {
				if err := flush(); err != nil {
					return err
				}
			}
			if cur == nil {
				cur = &pending{ts: start}
			}
			if err := cur.add(f); err != nil {
				monitoring.Logf("sensor: drop frame: %v", err)
			}
		}
	}
}

// Close closes the underlying port, unblocking a pending Run.
func (s *Source) Close() error {
	return s.port.Close()
}
