package simulation

import "math"

// Propagation computes block transfer delays between two nodes from the
// region latency table, the link bandwidth and the compact block relay
// failure model.
type Propagation struct {
	cfg  *Config
	rand *RandomStreams
}

func NewPropagation(cfg *Config, rand *RandomStreams) *Propagation {
	return &Propagation{cfg: cfg, rand: rand}
}

// Latency is Pareto distributed with its mean close to the configured
// region-to-region latency.
func (p *Propagation) Latency(from, to *Node) int64 {
	mean := float64(p.cfg.Latency[from.region][to.region])
	shape := math.Max(0.2*mean, 1.1)
	scale := math.Max(mean-5, 1)
	return int64(math.Round(p.rand.Pareto(scale, shape)))
}

// Bandwidth of the link in bits per second.
func (p *Propagation) Bandwidth(from, to *Node) int64 {
	return min(p.cfg.UploadBandwidth[from.region], p.cfg.DownloadBandwidth[to.region])
}

// BlockSize is the number of bytes needed to deliver a block over the
// link. Compact relay applies only when both ends support it and may fail,
// in which case part of the full block is fetched on top.
func (p *Propagation) BlockSize(from, to *Node) int64 {
	if !from.useCBR || !to.useCBR {
		return p.cfg.BlockSize
	}
	rate, dist := p.cfg.CBRFailureRateControl, p.cfg.CBRFailureSizeControl
	if to.churn {
		rate, dist = p.cfg.CBRFailureRateChurn, p.cfg.CBRFailureSizeChurn
	}
	size := p.cfg.CompactBlockSize
	if p.rand.Float64() < rate {
		size += int64(float64(p.cfg.BlockSize) * dist[p.rand.Intn(len(dist))])
	}
	return size
}

// Delay returns the milliseconds a block takes to travel from one node to
// another.
func (p *Propagation) Delay(from, to *Node) int64 {
	transfer := p.BlockSize(from, to) * 8 * 1000 / p.Bandwidth(from, to)
	return p.Latency(from, to) + transfer
}
