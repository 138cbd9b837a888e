package tree

// Shape returns the node addresses of a tree holding n leaves with the given
// fan-in, level by level. It tracks addresses only, never values, and follows
// the growth rules of AppendLeaf: level k+1 holds one node per complete group
// of fanIn nodes at level k, and no level is empty except level 0 when n is 0.
func Shape(n, fanIn int) [][]Coord {
	counts := shapeCounts(n, fanIn)
	shape := make([][]Coord, len(counts))
	for level, count := range counts {
		shape[level] = make([]Coord, count)
		for i := range shape[level] {
			shape[level][i] = Coord{Level: level, Index: i}
		}
	}
	return shape
}

// DiffForLeaf returns the father coordinates that exist in the shape holding
// leafIndex+1 leaves but not in the shape holding leafIndex leaves: exactly the
// internal nodes that inserting one more leaf makes structurally completable.
// Coordinates come back in level-ascending order. The result depends only on
// its arguments, so repeated calls agree.
func DiffForLeaf(leafIndex, fanIn int) []Coord {
	if leafIndex < 0 {
		return nil
	}
	before := shapeCounts(leafIndex, fanIn)
	after := shapeCounts(leafIndex+1, fanIn)

	// Addresses at a level are the dense range [0, count), so the set
	// difference of two shapes is the tail [before, after) of each level.
	var diff []Coord
	for level := 1; level < len(after); level++ {
		from := 0
		if level < len(before) {
			from = before[level]
		}
		for i := from; i < after[level]; i++ {
			diff = append(diff, Coord{Level: level, Index: i})
		}
	}
	return diff
}

// shapeCounts returns the number of nodes per level of the n-leaf shape.
func shapeCounts(n, fanIn int) []int {
	counts := []int{max(n, 0)}
	if fanIn < 2 {
		return counts
	}
	for count := n / fanIn; count > 0; count /= fanIn {
		counts = append(counts, count)
	}
	return counts
}
