// Package sim generates synthetic minute records for demos and load tests:
// plausible audio and light descriptors, hash-chained and optionally signed.
// A fixed seed reproduces the exact same session.
package sim

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/avsafe-data/avsafe.report/internal/audio"
	"github.com/avsafe-data/avsafe.report/internal/integrity"
	"github.com/avsafe-data/avsafe.report/internal/minute"
)

// Spike injects a step change over a window of minutes, used to script
// scenarios like a loud interval or a flickering fixture switching on.
type Spike struct {
	Start    int
	Duration int
	Delta    float64
}

func (s *Spike) at(idx int) float64 {
	if s == nil || idx < s.Start || idx >= s.Start+s.Duration {
		return 0
	}
	return s.Delta
}

// Config is the generation model. Zero values fall back to the defaults of
// a quiet indoor scene with mild mains flicker.
type Config struct {
	Minutes  int
	Start    time.Time
	Seed     int64
	DeviceID string

	LAeqBaseDB    float64
	LAeqSigmaDB   float64
	LCpeakExtraDB [2]float64

	// BandRange limits the generated 1/3-octave grid (Hz).
	BandRange [2]float64

	TLMFreqChoices    []float64
	TLMModBasePct     float64
	TLMModSigmaPct    float64
	FlickerIndexRange [2]float64

	AudioSpike   *Spike
	FlickerSpike *Spike

	// Signer, when set, signs every generated record.
	Signer *integrity.Signer
}

func (c Config) withDefaults() Config {
	if c.Minutes <= 0 {
		c.Minutes = 60
	}
	if c.Start.IsZero() {
		c.Start = time.Now().UTC()
	}
	if c.LAeqBaseDB == 0 {
		c.LAeqBaseDB = 52
	}
	if c.LAeqSigmaDB == 0 {
		c.LAeqSigmaDB = 4
	}
	if c.LCpeakExtraDB == [2]float64{} {
		c.LCpeakExtraDB = [2]float64{5, 15}
	}
	if c.BandRange == [2]float64{} {
		c.BandRange = [2]float64{100, 5000}
	}
	if len(c.TLMFreqChoices) == 0 {
		c.TLMFreqChoices = []float64{100, 120, 180, 300, 1000}
	}
	if c.TLMModBasePct == 0 {
		c.TLMModBasePct = 2
	}
	if c.TLMModSigmaPct == 0 {
		c.TLMModSigmaPct = 1
	}
	if c.FlickerIndexRange == [2]float64{} {
		c.FlickerIndexRange = [2]float64{0, 0.2}
	}
	return c
}

// Generator produces one simulated session. Not safe for concurrent use.
type Generator struct {
	cfg     Config
	rng     *rand.Rand
	centers []float64
	builder *integrity.Builder
	ts      time.Time
}

func NewGenerator(cfg Config) *Generator {
	cfg = cfg.withDefaults()
	return &Generator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		centers: audio.ThirdOctaveCenters(cfg.BandRange[0], cfg.BandRange[1]),
		builder: integrity.NewBuilder(),
		ts:      cfg.Start.UTC(),
	}
}

// Next generates and seals the next minute record.
func (g *Generator) Next() (minute.Record, error) {
	idx := g.builder.Next()

	laeq := g.rng.NormFloat64()*g.cfg.LAeqSigmaDB + g.cfg.LAeqBaseDB
	laeq += g.cfg.AudioSpike.at(idx)
	bands := g.pinkishSpectrum(laeq)
	lcpeak := laeq + g.uniform(g.cfg.LCpeakExtraDB)

	mod := g.rng.NormFloat64()*g.cfg.TLMModSigmaPct + g.cfg.TLMModBasePct
	mod += g.cfg.FlickerSpike.at(idx)
	mod = math.Min(math.Max(mod, 0), 100)

	p := minute.Payload{
		Idx:      idx,
		TS:       g.ts,
		DeviceID: g.cfg.DeviceID,
		Audio: &minute.AudioDescriptors{
			LAeqDB:        round1(laeq),
			LCpeakDB:      round1(lcpeak),
			ThirdOctaveDB: bands,
		},
		Light: &minute.LightDescriptors{
			TLMFreqHz:     g.cfg.TLMFreqChoices[g.rng.Intn(len(g.cfg.TLMFreqChoices))],
			TLMModPercent: roundN(mod, 2),
			FlickerIndex:  roundN(g.uniform(g.cfg.FlickerIndexRange), 3),
		},
	}
	g.ts = g.ts.Add(time.Minute)

	chain := minute.ChainBlock{}
	if g.cfg.Signer != nil {
		block, err := g.cfg.Signer.Sign(p)
		if err != nil {
			return minute.Record{}, err
		}
		chain = block
	}
	link, err := g.builder.Append(p)
	if err != nil {
		return minute.Record{}, err
	}
	chain.Hash = link.HashHex()
	return minute.Record{Payload: p, Chain: chain}, nil
}

// Generate runs the whole configured session, honouring ctx cancellation
// between minutes.
func (g *Generator) Generate(ctx context.Context) ([]minute.Record, error) {
	out := make([]minute.Record, 0, g.cfg.Minutes)
	for i := 0; i < g.cfg.Minutes; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rec, err := g.Next()
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// pinkishSpectrum builds band levels sloping down from 1 kHz with jitter,
// then shifts the whole spectrum so its A-weighted sum matches the target.
func (g *Generator) pinkishSpectrum(laeqTarget float64) map[string]float64 {
	levels := make([]float64, len(g.centers))
	for i, fc := range g.centers {
		octaves := math.Log2(fc / 1000)
		levels[i] = laeqTarget - 6*octaves + g.rng.NormFloat64()*1.5
	}
	if overall := audio.OverallAWeightedDB(g.centers, levels); !math.IsInf(overall, -1) {
		delta := laeqTarget - overall
		for i := range levels {
			levels[i] += delta
		}
	}
	out := make(map[string]float64, len(levels))
	for i, fc := range g.centers {
		out[audio.NominalLabel(fc)] = round1(levels[i])
	}
	return out
}

func (g *Generator) uniform(r [2]float64) float64 {
	return r[0] + g.rng.Float64()*(r[1]-r[0])
}

func round1(v float64) float64 { return roundN(v, 1) }

func roundN(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
