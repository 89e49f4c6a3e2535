package model

// NodeID addresses a quadtree node as a path of quadrant symbols. The root
// is "0"; every child appends one of '0'..'3' to its parent's id.
type NodeID string

const RootNodeID NodeID = "0"

// Symbols in child order.
var Symbols = [4]byte{'0', '1', '2', '3'}

func (id NodeID) Depth() int { return len(id) - 1 }

func (id NodeID) Child(sym byte) NodeID { return id + NodeID(sym) }

func (id NodeID) Children() [4]NodeID {
	return [4]NodeID{id.Child('0'), id.Child('1'), id.Child('2'), id.Child('3')}
}

// Parent returns the parent id; the root has no parent.
func (id NodeID) Parent() (NodeID, bool) {
	if len(id) <= 1 {
		return "", false
	}
	return id[:len(id)-1], true
}

// Last is the quadrant symbol that selects this node inside its parent.
func (id NodeID) Last() byte {
	if len(id) == 0 {
		return 0
	}
	return id[len(id)-1]
}

func (id NodeID) Valid() bool {
	if len(id) == 0 || id[0] != '0' {
		return false
	}
	for i := 1; i < len(id); i++ {
		if id[i] < '0' || id[i] > '3' {
			return false
		}
	}
	return true
}

func (id NodeID) String() string { return string(id) }
