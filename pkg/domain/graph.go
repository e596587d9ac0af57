package domain

// Node is one entity reached while walking a relationship graph.
type Node struct {
	Entity   Entity
	Parent   Entity
	Relation string
	Depth    int
}

// Walk visits root and every loaded relation target reachable from it in
// pre-order, following Relations() in declaration order. Each instance is
// visited once; null and unloaded references are not followed.
func Walk(root Entity, visit func(Node) error) error {
	if IsNil(root) {
		return nil
	}
	seen := make(map[Entity]struct{})
	return walk(Node{Entity: root}, seen, visit)
}

func walk(n Node, seen map[Entity]struct{}, visit func(Node) error) error {
	if _, ok := seen[n.Entity]; ok {
		return nil
	}
	seen[n.Entity] = struct{}{}
	if err := visit(n); err != nil {
		return err
	}
	for _, rel := range n.Entity.Relations() {
		if rel.Slot == nil {
			continue
		}
		target, ok := rel.Slot.Target()
		if !ok || IsNil(target) {
			continue
		}
		child := Node{Entity: target, Parent: n.Entity, Relation: rel.Name, Depth: n.Depth + 1}
		if err := walk(child, seen, visit); err != nil {
			return err
		}
	}
	return nil
}

// Collect returns the nodes reachable from root in Walk order.
func Collect(root Entity) []Node {
	var nodes []Node
	_ = Walk(root, func(n Node) error {
		nodes = append(nodes, n)
		return nil
	})
	return nodes
}
