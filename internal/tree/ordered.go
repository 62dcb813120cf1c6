package tree

// Child pairs a child id with its node.
type Child struct {
	ID   string
	Node Node
}

// OrderedChildren returns the children of c oldest first.
//
// The walk starts at lastId and follows prevId links. It stops at the first
// missing node or repeated id and returns the prefix collected so far, so a
// corrupt encoding truncates instead of failing or looping. A collection with
// count 0 is empty regardless of its entries.
func OrderedChildren(c Children) []Child {
	if c.obj == nil {
		return nil
	}
	if count, ok := c.Count(); ok && count == 0 {
		return nil
	}

	var out []Child
	seen := make(map[string]struct{})
	id, ok := c.LastID()
	for ok {
		if _, dup := seen[id]; dup {
			break
		}
		node, found := c.Entry(id)
		if !found {
			break
		}
		seen[id] = struct{}{}
		out = append(out, Child{ID: id, Node: node})
		id, ok = idOf(node.obj[KeyPrevID])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// OrderedChildrenOf is OrderedChildren over the children of node n.
func OrderedChildrenOf(n Node) []Child {
	c, ok := n.Children()
	if !ok {
		return nil
	}
	return OrderedChildren(c)
}
