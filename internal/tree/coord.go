package tree

import "fmt"

// Coord identifies a node position in the tree. Index is 0-based within Level.
type Coord struct {
	Level int
	Index int
}

// String renders the coordinate as "(level,index)".
func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.Level, c.Index)
}

// FirstChild returns the index, in level c.Level-1, of the first of the
// fanIn children that c aggregates.
func (c Coord) FirstChild(fanIn int) int {
	return c.Index * fanIn
}

// Parent returns the coordinate of the father aggregating c.
func (c Coord) Parent(fanIn int) Coord {
	return Coord{Level: c.Level + 1, Index: c.Index / fanIn}
}
