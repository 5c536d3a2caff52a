package simulation

import (
	"math"
	"sort"
)

// TopologyBuilder assigns every node its region, outbound degree, mining
// power and CBR/churn flags, then wires the neighbour graph.
type TopologyBuilder struct {
	cfg  *Config
	rand *RandomStreams
}

func NewTopologyBuilder(cfg *Config, rand *RandomStreams) *TopologyBuilder {
	return &TopologyBuilder{cfg: cfg, rand: rand}
}

// Build returns nodes 1..N in id order. Chain state and behaviour are
// attached later by the simulation.
func (tb *TopologyBuilder) Build() ([]*Node, error) {
	n := tb.cfg.NumNodes
	if n <= 0 {
		return nil, ErrNoNodes
	}
	regions := tb.distributionList(tb.cfg.RegionDistribution, false)
	degrees := tb.distributionList(tb.cfg.DegreeDistribution, true)
	useCBR := tb.featureList(tb.cfg.CBRUsageRate)
	churn := tb.featureList(tb.cfg.ChurnNodeRate)

	nodes := make([]*Node, n)
	for i := range nodes {
		nodes[i] = &Node{
			id:     i + 1,
			region: regions[i],
			degree: degrees[i] + 1,
			power:  tb.miningPower(),
			useCBR: useCBR[i],
			churn:  churn[i],
		}
	}
	tb.upliftAttackers(nodes)

	if TotalMiningPower(nodes) <= 0 {
		return nil, ErrZeroMiningPower
	}
	tb.connect(nodes)
	return nodes, nil
}

// distributionList expands dist into N bucket indices whose frequencies
// follow it, then shuffles them so list position carries no information.
func (tb *TopologyBuilder) distributionList(dist []float64, cumulative bool) []int {
	n := tb.cfg.NumNodes
	list := make([]int, 0, n+1)
	acc := 0.0
	for index, p := range dist {
		if cumulative {
			acc = p
		} else {
			acc += p
		}
		for len(list) < n && float64(len(list)) < float64(n)*acc {
			list = append(list, index)
		}
	}
	for len(list) < n {
		list = append(list, len(dist)-1)
	}
	tb.rand.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	return list
}

func (tb *TopologyBuilder) featureList(rate float64) []bool {
	n := tb.cfg.NumNodes
	list := make([]bool, n)
	for i := range list {
		list[i] = float64(i) < float64(n)*rate
	}
	tb.rand.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	return list
}

// miningPower samples a node's power; anything below 1 is clamped.
func (tb *TopologyBuilder) miningPower() int64 {
	r := tb.rand.Normal(float64(tb.cfg.AverageMiningPower), float64(tb.cfg.StdevMiningPower))
	if r < 1 || math.IsNaN(r) {
		return 1
	}
	return int64(r)
}

func (tb *TopologyBuilder) upliftAttackers(nodes []*Node) {
	k := min(tb.cfg.NumAttackers, len(nodes))
	if k == 0 {
		return
	}
	for _, node := range nodes[:k] {
		node.attacker = true
		node.power += tb.uplift(nodes, node)
	}
}

func (tb *TopologyBuilder) uplift(nodes []*Node, attacker *Node) int64 {
	share := tb.cfg.AttackerPowerShare
	switch tb.cfg.Uplift {
	case UpliftTargetShare:
		k := min(tb.cfg.NumAttackers, len(nodes))
		var honest int64
		for _, node := range nodes[k:] {
			honest += node.power
		}
		target := share / (1 - share) * float64(honest) / float64(k)
		return max(1, int64(target)-attacker.power)
	default:
		uplift := float64(tb.cfg.AverageMiningPower) * share * float64(max(1, len(nodes)))
		return max(1, int64(uplift))
	}
}

// connect wires outbound peers Bitcoin Core style: each node walks a
// shuffled candidate list and links to peers that are not itself, not
// already linked and still below the inbound cap.
func (tb *TopologyBuilder) connect(nodes []*Node) {
	inbound := make([]int, len(nodes))
	linked := make([]map[int]struct{}, len(nodes))
	for i := range linked {
		linked[i] = make(map[int]struct{})
	}
	candidates := make([]int, len(nodes))
	for _, node := range nodes {
		for i := range candidates {
			candidates[i] = i
		}
		tb.rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

		self := node.id - 1
		outbound := 0
		for _, c := range candidates {
			if outbound >= node.degree {
				break
			}
			if c == self || inbound[c] >= tb.cfg.MaxInbound {
				continue
			}
			if _, ok := linked[self][c]; ok {
				continue
			}
			linked[self][c] = struct{}{}
			linked[c][self] = struct{}{}
			inbound[c]++
			outbound++
		}
	}
	for i, node := range nodes {
		node.neighbors = make([]int, 0, len(linked[i]))
		for c := range linked[i] {
			node.neighbors = append(node.neighbors, c+1)
		}
		sort.Ints(node.neighbors)
	}
}

func TotalMiningPower(nodes []*Node) int64 {
	var total int64
	for _, node := range nodes {
		total += node.power
	}
	return total
}
