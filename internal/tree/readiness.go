package tree

// IsReady reports whether every child the father at c aggregates is present
// in the current state. It is re-evaluated on every call and never cached; as
// nodes are never removed, once true it stays true.
func (t *Tree) IsReady(c Coord) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.readyLocked(c)
}

// Has reports whether the node at c has been produced.
func (t *Tree) Has(c Coord) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c.Level < 0 || c.Index < 0 || c.Level >= len(t.levels) {
		return false
	}
	level := t.levels[c.Level]
	return c.Index < len(level) && level[c.Index] != nil
}

func (t *Tree) readyLocked(c Coord) bool {
	if c.Level < 1 || c.Index < 0 || c.Level-1 >= len(t.levels) {
		return false
	}
	children := t.levels[c.Level-1]
	first := c.FirstChild(t.fanIn)
	if first+t.fanIn > len(children) {
		return false
	}
	for _, child := range children[first : first+t.fanIn] {
		if child == nil {
			return false
		}
	}
	return true
}
