package runtime

import "github.com/sbl8/tinygraph/model"

// Levels groups node indices by dependency depth. Nodes reading only graph
// inputs and constants are level 0; every other node sits one level above
// the deepest producer it reads from. Nodes in one level are independent of
// each other, and each level lists its nodes in graph order.
func Levels(g *model.Graph) [][]int {
	producer := g.Producers()
	depth := make([]int, len(g.Nodes))
	maxLevel := -1
	for i, n := range g.Nodes {
		d := 0
		for _, t := range n.Inputs {
			if p, ok := producer[t]; ok && p < i {
				d = max(d, depth[p]+1)
			}
		}
		depth[i] = d
		maxLevel = max(maxLevel, d)
	}
	levels := make([][]int, maxLevel+1)
	for i, d := range depth {
		levels[d] = append(levels[d], i)
	}
	return levels
}

// levelSteps maps each node index to its level.
func levelSteps(levels [][]int, nodes int) []int {
	steps := make([]int, nodes)
	for l, group := range levels {
		for _, i := range group {
			steps[i] = l
		}
	}
	return steps
}
