package simulation

import "math"

// ProofOfWork models mining as a Poisson process: a node with power p
// finds a block after an exponential delay with rate p / difficulty.
// Difficulty is recalibrated against the network's total power so the
// expected network-wide block interval equals the target.
type ProofOfWork struct {
	interval   int64
	totalPower int64
	rand       *RandomStreams
}

func NewProofOfWork(interval int64, rand *RandomStreams) *ProofOfWork {
	return &ProofOfWork{interval: interval, rand: rand}
}

// Recalibrate sets the total power the difficulty is derived from.
func (pow *ProofOfWork) Recalibrate(totalPower int64) {
	pow.totalPower = totalPower
}

func (pow *ProofOfWork) Difficulty() uint64 {
	return uint64(pow.totalPower) * uint64(pow.interval)
}

// MintingDelay samples the time in milliseconds until a node with the
// given power finds its next block.
func (pow *ProofOfWork) MintingDelay(power int64) int64 {
	difficulty := pow.Difficulty()
	if power <= 0 || difficulty == 0 {
		return math.MaxInt64 / 2
	}
	delay := pow.rand.Exponential(float64(power) / float64(difficulty))
	if delay >= math.MaxInt64/4 {
		return math.MaxInt64 / 4
	}
	return int64(delay)
}

// Seal picks the nonce of a new block.
func (pow *ProofOfWork) Seal() BlockNonce {
	return EncodeNonce(pow.rand.Uint64())
}
