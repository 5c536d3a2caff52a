package simulation

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// RandomStreams is the single seeded source behind every stochastic choice
// of a run. Draws happen in event order, so a fixed seed replays the run.
type RandomStreams struct {
	rnd *rand.Rand
}

func NewRandomStreams(seed uint64) *RandomStreams {
	return &RandomStreams{rnd: rand.New(rand.NewSource(seed))}
}

func (r *RandomStreams) Intn(n int) int { return r.rnd.Intn(n) }

func (r *RandomStreams) Float64() float64 { return r.rnd.Float64() }

func (r *RandomStreams) Uint64() uint64 { return r.rnd.Uint64() }

func (r *RandomStreams) Shuffle(n int, swap func(i, j int)) { r.rnd.Shuffle(n, swap) }

func (r *RandomStreams) Normal(mu, sigma float64) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: r.rnd}.Rand()
}

func (r *RandomStreams) Exponential(rate float64) float64 {
	return distuv.Exponential{Rate: rate, Src: r.rnd}.Rand()
}

func (r *RandomStreams) Pareto(xm, alpha float64) float64 {
	return distuv.Pareto{Xm: xm, Alpha: alpha, Src: r.rnd}.Rand()
}
