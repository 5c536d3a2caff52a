package simulation

import "fmt"

// SelectGenesisMinter draws a node with probability proportional to its
// mining power.
func SelectGenesisMinter(nodes []*Node, rand *RandomStreams) (*Node, error) {
	total := TotalMiningPower(nodes)
	if total <= 0 {
		return nil, ErrZeroMiningPower
	}
	r := int64(rand.Float64() * float64(total))
	var cumulative int64
	for _, node := range nodes {
		cumulative += node.power
		if r < cumulative {
			return node, nil
		}
	}
	return nil, fmt.Errorf("%w: roulette fell through at %d of %d", ErrZeroMiningPower, r, total)
}
