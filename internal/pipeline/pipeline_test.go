package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/avsafe-data/avsafe.report/internal/integrity"
	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

const testSeedHex = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

func sineWindow(freq, amp, fs float64, seconds float64) *minute.SampleWindow {
	n := int(fs * seconds)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/fs)
	}
	return &minute.SampleWindow{Samples: samples, SampleRate: fs}
}

func lightWindow(freq, depth, fs float64, seconds float64) *minute.SampleWindow {
	n := int(fs * seconds)
	samples := make([]float64, n)
	for i := range samples {
		t := float64(i) / fs
		samples[i] = 0.5 * (1 + depth*math.Sin(2*math.Pi*freq*t))
	}
	return &minute.SampleWindow{Samples: samples, SampleRate: fs}
}

func testWindows(n int) []Window {
	base := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	out := make([]Window, n)
	for i := range out {
		out[i] = Window{
			TS:    base.Add(time.Duration(i) * time.Minute),
			Audio: sineWindow(1000, 0.1, 8000, 1),
			Light: lightWindow(10, 0.5, 2000, 1),
		}
	}
	return out
}

func TestRunSealsWindowsInOrder(t *testing.T) {
	windows := testWindows(4)
	res, err := Run(context.Background(), windows, Config{DeviceID: "dev-1", Workers: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Incomplete {
		t.Error("Incomplete set on a full run")
	}
	if len(res.Records) != 4 {
		t.Fatalf("got %d records, want 4", len(res.Records))
	}
	for i, rec := range res.Records {
		if rec.Idx != i {
			t.Errorf("record %d has idx %d", i, rec.Idx)
		}
		if rec.DeviceID != "dev-1" {
			t.Errorf("record %d device = %q", i, rec.DeviceID)
		}
		if rec.TS != windows[i].TS {
			t.Errorf("record %d ts = %v, want %v", i, rec.TS, windows[i].TS)
		}
		if rec.Audio == nil || rec.Light == nil {
			t.Errorf("record %d missing descriptors", i)
		}
		if len(rec.Chain.Hash) != 64 {
			t.Errorf("record %d chain hash %q", i, rec.Chain.Hash)
		}
	}

	vr := integrity.Verify(context.Background(), res.Records, integrity.VerifyOptions{})
	if !vr.ChainIntact() {
		t.Errorf("chain broken at %d: %v", vr.BrokenIndex, vr.Break)
	}
}

func TestRunRecordsWindowErrors(t *testing.T) {
	windows := testWindows(4)
	windows[1].Audio = &minute.SampleWindow{SampleRate: 8000} // empty
	windows[1].Light = nil

	res, err := Run(context.Background(), windows, Config{Workers: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0].Window != 1 {
		t.Fatalf("errors = %+v, want one error for window 1", res.Errors)
	}
	// Failed windows do not occupy a chain index: the survivors re-index
	// contiguously and still verify.
	if len(res.Records) != 3 {
		t.Fatalf("got %d records, want 3", len(res.Records))
	}
	for i, rec := range res.Records {
		if rec.Idx != i {
			t.Errorf("record %d has idx %d", i, rec.Idx)
		}
	}
	vr := integrity.Verify(context.Background(), res.Records, integrity.VerifyOptions{})
	if !vr.ChainIntact() {
		t.Errorf("chain broken at %d after a skipped window", vr.BrokenIndex)
	}
}

func TestRunWithoutChannelsIsAWindowError(t *testing.T) {
	windows := []Window{{TS: time.Now()}}
	res, err := Run(context.Background(), windows, Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Errors) != 1 || len(res.Records) != 0 {
		t.Fatalf("result = %+v, want a single window error", res)
	}
}

func TestRunSignsRecords(t *testing.T) {
	signer, err := integrity.NewSigner(integrity.SignerConfig{Strict: true, SeedHex: testSeedHex})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	res, err := Run(context.Background(), testWindows(3), Config{Signer: signer})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	vr := integrity.Verify(context.Background(), res.Records, integrity.VerifyOptions{Strict: true})
	if !vr.ChainIntact() {
		t.Fatalf("chain broken at %d", vr.BrokenIndex)
	}
	for i, status := range vr.Signatures {
		if status != integrity.SignatureValid {
			t.Errorf("record %d signature = %v, want valid", i, status)
		}
	}
}

func TestRunClipWarningsCarryWindowNumber(t *testing.T) {
	windows := testWindows(2)
	windows[1].Audio = sineWindow(1000, 1.0, 8000, 1) // full scale

	res, err := Run(context.Background(), windows, Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("no warnings for a clipped window")
	}
	for _, w := range res.Warnings {
		if w[:len("window 1:")] != "window 1:" {
			t.Errorf("warning %q not attributed to window 1", w)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, testWindows(8), Config{Workers: 1})
	if err == nil {
		t.Fatal("Run on a cancelled context returned no error")
	}
	if !res.Incomplete {
		t.Error("Incomplete not set after cancellation")
	}
	if len(res.Records)+len(res.Errors) >= 8 {
		t.Errorf("all %d windows processed despite cancellation", len(res.Records)+len(res.Errors))
	}
}
