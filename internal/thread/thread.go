// Package thread rebuilds comment trees from cached items.
package thread

import "github.com/JakeFAU/hn-mirror/internal/item"

// Lookup reads one cached item without touching the network.
type Lookup func(id item.ID) (*item.Item, bool)

// Node is one reply and its nested replies.
type Node struct {
	Item    *item.Item `json:"item"`
	Depth   int        `json:"depth"`
	Replies []Node     `json:"replies,omitempty"`
}

// Build returns the reply tree below root in Kids order. Replies that are not
// cached or have no author (deleted or dead placeholders) are skipped along
// with their subtrees. Each id appears at most once.
func Build(lookup Lookup, root *item.Item) []Node {
	if root == nil {
		return nil
	}
	visited := map[item.ID]struct{}{root.ID: {}}
	return build(lookup, root.Kids, 0, visited)
}

func build(lookup Lookup, kids []item.ID, depth int, visited map[item.ID]struct{}) []Node {
	var nodes []Node
	for _, id := range kids {
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		it, ok := lookup(id)
		if !ok || it.Author == nil {
			continue
		}
		nodes = append(nodes, Node{
			Item:    it,
			Depth:   depth,
			Replies: build(lookup, it.Kids, depth+1, visited),
		})
	}
	return nodes
}

// Count returns the number of nodes in the forest.
func Count(nodes []Node) int {
	n := len(nodes)
	for _, node := range nodes {
		n += Count(node.Replies)
	}
	return n
}
