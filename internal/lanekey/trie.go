package lanekey

// trieNode is one node of the static command-path trie built from a
// ManifestEntry list. Longest-prefix match determines a command's
// family; an argv with no manifest match at all classifies as control.
type trieNode struct {
	children map[string]*trieNode
	family   Family
	hasFamily bool
}

func buildTrie(manifest []ManifestEntry) *trieNode {
	root := &trieNode{children: map[string]*trieNode{}}
	for _, entry := range manifest {
		node := root
		for _, seg := range entry.Path {
			child, ok := node.children[seg]
			if !ok {
				child = &trieNode{children: map[string]*trieNode{}}
				node.children[seg] = child
			}
			node = child
		}
		node.family = entry.Family
		node.hasFamily = true
	}
	return root
}

// lookup walks argv against the trie and returns the family of the
// deepest matching node that carries one, defaulting to FamilyControl.
func (root *trieNode) lookup(argv []string) Family {
	node := root
	best := FamilyControl
	for _, tok := range argv {
		child, ok := node.children[tok]
		if !ok {
			break
		}
		node = child
		if node.hasFamily {
			best = node.family
		}
	}
	return best
}
