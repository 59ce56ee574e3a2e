package world

import "container/heap"

// neighborOffsets lists the 4-connected moves in expansion order.
var neighborOffsets = [...]Point{
	{X: 0, Y: -1}, // north
	{X: 0, Y: 1},  // south
	{X: -1, Y: 0}, // west
	{X: 1, Y: 0},  // east
}

// pathNode is a search-local A* node.
type pathNode struct {
	point  Point
	g      int
	h      int
	f      int
	seq    int
	index  int
	parent *pathNode
}

// pathQueue orders nodes by f, then by insertion sequence.
type pathQueue []*pathNode

func (pq pathQueue) Len() int { return len(pq) }

func (pq pathQueue) Less(i, j int) bool {
	if pq[i].f != pq[j].f {
		return pq[i].f < pq[j].f
	}
	return pq[i].seq < pq[j].seq
}

func (pq pathQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *pathQueue) Push(x any) {
	item := x.(*pathNode)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *pathQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// FindPath returns a shortest 4-connected path from start to goal over grid,
// inclusive of both endpoints and ordered start to goal.
//
// Neighbors that are out of bounds or blocked are never entered. A settled
// cell is not reopened; with unit costs and the Manhattan heuristic the first
// expansion is optimal. When several shortest paths exist, which one is
// returned is unspecified.
//
// Precondition: grid must be non-nil.
// Postcondition: Returns [start] when start == goal, an empty slice when goal
// is unreachable, or a path whose length-1 equals the shortest step count.
func FindPath(grid *Tilemap, start, goal Point) []Point {
	if start == goal {
		return []Point{start}
	}

	index := func(p Point) int { return p.Y*grid.Width + p.X }

	open := &pathQueue{}
	openByIndex := make(map[int]*pathNode)
	closed := make(map[int]struct{})
	seq := 0

	startNode := &pathNode{point: start, h: ManhattanDistance(start, goal)}
	startNode.f = startNode.h
	heap.Push(open, startNode)
	openByIndex[index(start)] = startNode

	for open.Len() > 0 {
		current := heap.Pop(open).(*pathNode)
		currIdx := index(current.point)
		delete(openByIndex, currIdx)
		closed[currIdx] = struct{}{}

		if current.point == goal {
			return reconstructPath(current)
		}

		for _, delta := range neighborOffsets {
			next := Point{X: current.point.X + delta.X, Y: current.point.Y + delta.Y}
			if !grid.Walkable(next) {
				continue
			}
			idx := index(next)
			if _, settled := closed[idx]; settled {
				continue
			}
			g := current.g + 1
			if existing, ok := openByIndex[idx]; ok {
				if g < existing.g {
					existing.g = g
					existing.f = g + existing.h
					existing.parent = current
					heap.Fix(open, existing.index)
				}
				continue
			}
			seq++
			h := ManhattanDistance(next, goal)
			node := &pathNode{point: next, g: g, h: h, f: g + h, seq: seq, parent: current}
			heap.Push(open, node)
			openByIndex[idx] = node
		}
	}
	return []Point{}
}

// reconstructPath walks parent links back from end and returns the cells in
// start-to-end order.
func reconstructPath(end *pathNode) []Point {
	path := make([]Point, 0, end.g+1)
	for node := end; node != nil; node = node.parent {
		path = append(path, node.point)
	}
	for i := 0; i < len(path)/2; i++ {
		j := len(path) - 1 - i
		path[i], path[j] = path[j], path[i]
	}
	return path
}
