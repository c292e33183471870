// Package pipeline turns captured sample windows into sealed minute records:
// parallel descriptor extraction followed by a strictly sequential chain and
// signature stage.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avsafe-data/avsafe.report/internal/audio"
	"github.com/avsafe-data/avsafe.report/internal/integrity"
	"github.com/avsafe-data/avsafe.report/internal/light"
	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/monitoring"
)

// Window is one minute of captured samples. Audio and Light are independent
// capture channels; at least one must be present.
type Window struct {
	TS    time.Time
	Audio *minute.SampleWindow
	Light *minute.SampleWindow
}

// Config selects the extractors and optional signer for a run.
type Config struct {
	DeviceID string
	// Workers caps concurrent extractions; 0 means GOMAXPROCS.
	Workers int
	Audio   audio.Config
	Light   light.Config
	// Signer, when set, signs every sealed record.
	Signer *integrity.Signer
}

// WindowError records a window whose extraction failed. The remaining
// windows are still processed; failed windows never occupy a chain index.
type WindowError struct {
	Window int
	Err    error
}

func (e WindowError) Error() string {
	return fmt.Sprintf("window %d: %v", e.Window, e.Err)
}

// Result carries the sealed records of a run together with everything that
// went wrong along the way. Records are chained contiguously from idx 0 in
// window order, skipping failed windows.
type Result struct {
	Records  []minute.Record
	Warnings []string
	Errors   []WindowError
	// Incomplete is set when ctx was cancelled before every window was
	// processed. Sealed records stay valid.
	Incomplete bool
}

type slot struct {
	payload  minute.Payload
	warnings []string
	err      error
	done     bool
}

// Run extracts descriptors from windows in parallel and then seals them in
// order. Extraction failures are recorded per window, not fatal; only ctx
// cancellation aborts the run, yielding the records sealed so far with
// Incomplete set.
func Run(ctx context.Context, windows []Window, cfg Config) (Result, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	audioEx := audio.NewExtractor(cfg.Audio)
	lightEx := light.NewExtractor(cfg.Light)

	slots := make([]slot, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = extractOne(windows[i], cfg.DeviceID, audioEx, lightEx)
			return nil
		})
	}
	waitErr := g.Wait()

	res := Result{}
	if waitErr != nil {
		res.Incomplete = true
	}

	builder := integrity.NewBuilder()
	for i := range slots {
		s := &slots[i]
		if !s.done {
			// Unprocessed windows only exist after cancellation.
			break
		}
		if s.err != nil {
			res.Errors = append(res.Errors, WindowError{Window: i, Err: s.err})
			continue
		}
		for _, w := range s.warnings {
			res.Warnings = append(res.Warnings, fmt.Sprintf("window %d: %s", i, w))
		}

		p := s.payload
		p.Idx = builder.Next()
		chain := minute.ChainBlock{}
		if cfg.Signer != nil {
			block, err := cfg.Signer.Sign(p)
			if err != nil {
				return res, fmt.Errorf("pipeline: sign window %d: %w", i, err)
			}
			chain = block
		}
		link, err := builder.Append(p)
		if err != nil {
			return res, fmt.Errorf("pipeline: chain window %d: %w", i, err)
		}
		chain.Hash = link.HashHex()
		res.Records = append(res.Records, minute.Record{Payload: p, Chain: chain})
	}

	if waitErr != nil {
		monitoring.Logf("pipeline: run aborted after %d of %d windows: %v",
			len(res.Records)+len(res.Errors), len(windows), waitErr)
		return res, waitErr
	}
	return res, nil
}

func extractOne(w Window, deviceID string, audioEx *audio.Extractor, lightEx *light.Extractor) slot {
	s := slot{done: true}
	if w.Audio == nil && w.Light == nil {
		s.err = fmt.Errorf("no capture channels")
		return s
	}

	p := minute.Payload{TS: w.TS.UTC(), DeviceID: deviceID}
	if w.Audio != nil {
		desc, warnings, err := audioEx.Extract(*w.Audio)
		if err != nil {
			s.err = fmt.Errorf("audio: %w", err)
			return s
		}
		p.Audio = &desc
		s.warnings = append(s.warnings, warnings...)
	}
	if w.Light != nil {
		desc, err := lightEx.Extract(*w.Light)
		if err != nil {
			s.err = fmt.Errorf("light: %w", err)
			return s
		}
		p.Light = &desc
	}
	s.payload = p
	return s
}
