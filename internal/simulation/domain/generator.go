package simulation

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Absolute physiological bounds applied after jitter.
const (
	HeartRateFloor = 0
	HeartRateCeil  = 200
	SpO2Floor      = 0
	SpO2Ceil       = 100
	TempSkinFloor  = 30.0
	TempSkinCeil   = 45.0

	heartRateJitter = 5
	spo2Jitter      = 2
	tempJitter      = 0.3
)

// Vitals is one generated sample.
type Vitals struct {
	HeartRate int     `json:"heart_rate"`
	SpO2      int     `json:"spo2"`
	TempSkin  float64 `json:"temp_skin"`
	State     string  `json:"state"`
}

// Generator draws vitals for a state. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator seeds a generator from src, or from the clock when src is nil.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Generator{rnd: rand.New(src)}
}

// Generate draws one sample: a uniform value inside each range plus small
// jitter, clamped to the absolute bounds.
func (g *Generator) Generate(state State) Vitals {
	g.mu.Lock()
	defer g.mu.Unlock()

	hr := g.intIn(state.HeartRate.Min, state.HeartRate.Max) + g.intIn(-heartRateJitter, heartRateJitter)
	spo2 := g.intIn(state.SpO2.Min, state.SpO2.Max) + g.intIn(-spo2Jitter, spo2Jitter)
	temp := round1(g.floatIn(state.TempSkin.Min, state.TempSkin.Max)) + round1(g.floatIn(-tempJitter, tempJitter))

	return Vitals{
		HeartRate: clampInt(hr, HeartRateFloor, HeartRateCeil),
		SpO2:      clampInt(spo2, SpO2Floor, SpO2Ceil),
		TempSkin:  round1(clampFloat(temp, TempSkinFloor, TempSkinCeil)),
		State:     state.Name,
	}
}

func (g *Generator) intIn(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.rnd.Intn(hi-lo+1)
}

func (g *Generator) floatIn(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + g.rnd.Float64()*(hi-lo)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
