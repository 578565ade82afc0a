package devices

import (
	"sort"

	"skyhub/internal/app/model"
)

// NodeKind tags the variant of a device tree node
type NodeKind string

const (
	KindRoot    NodeKind = "root"
	KindObject  NodeKind = "object"
	KindDevice  NodeKind = "device"
	KindChannel NodeKind = "channel"
)

// ChannelType is the value type of a channel node
type ChannelType string

const (
	ChannelNumber  ChannelType = "number"
	ChannelString  ChannelType = "string"
	ChannelBoolean ChannelType = "boolean"
	ChannelObject  ChannelType = "object"
)

// Node is one entry of the per-object device tree. Parents own children;
// each node keeps a back reference to its parent and caches its path.
type Node struct {
	kind     NodeKind
	name     string
	parent   *Node
	children map[string]*Node

	subType    ChannelType
	operations []string
	unit       string
	value      interface{}

	path string
}

func newNode(kind NodeKind, name string, parent *Node) *Node {
	return &Node{
		kind:     kind,
		name:     name,
		parent:   parent,
		children: make(map[string]*Node),
	}
}

// Kind returns the node variant
func (n *Node) Kind() NodeKind {
	return n.kind
}

// Name returns the name of the node within its parent
func (n *Node) Name() string {
	return n.name
}

// Value returns the stored value of a channel node
func (n *Node) Value() interface{} {
	return n.value
}

// Unit returns the measurement unit of a channel node
func (n *Node) Unit() string {
	return n.unit
}

// Path returns the absolute path of the node, caching the result
func (n *Node) Path() string {
	if n.path != "" {
		return n.path
	}

	if n.parent == nil {
		n.path = "/"
	} else if n.parent.parent == nil {
		n.path = "/" + n.name
	} else {
		n.path = n.parent.Path() + "/" + n.name
	}

	return n.path
}

// invalidatePath drops the cached path of the node and its subtree; called
// on re-parenting
func (n *Node) invalidatePath() {
	n.path = ""

	for _, child := range n.children {
		child.invalidatePath()
	}
}

// AddDevice creates a device child node
func (n *Node) AddDevice(name string) *Node {
	child := newNode(KindDevice, name, n)
	n.children[name] = child

	return child
}

// AddChannel creates a channel child node with a typed value slot
func (n *Node) AddChannel(name string, subType ChannelType, unit string) *Node {
	child := newNode(KindChannel, name, n)
	child.subType = subType
	child.unit = unit
	n.children[name] = child

	return child
}

// Child returns a direct child by name
func (n *Node) Child(name string) (*Node, bool) {
	child, ok := n.children[name]
	return child, ok
}

// ChildNames returns the names of all direct children in sorted order
func (n *Node) ChildNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ancestors returns the chain from the node up to but excluding the root
func (n *Node) ancestors() []*Node {
	chain := make([]*Node, 0, 4)

	for node := n; node != nil && node.parent != nil; node = node.parent {
		chain = append(chain, node)
	}

	return chain
}

// Snapshot returns the channel values of the subtree rooted at the node: a
// channel node yields its value, every other node a map keyed by child name
func (n *Node) Snapshot() interface{} {
	if n.kind == KindChannel {
		return n.value
	}

	snapshot := make(map[string]interface{}, len(n.children))
	for name, child := range n.children {
		snapshot[name] = child.Snapshot()
	}

	return snapshot
}

// JSON returns the wire representation of the node used in DEV-LIST bodies
func (n *Node) JSON() model.Body {
	body := model.Body{"type": string(n.kind)}

	if n.kind == KindChannel {
		body["subType"] = string(n.subType)

		if len(n.operations) > 0 {
			body["operations"] = n.operations
		}

		if n.unit != "" {
			body["unit"] = n.unit
		}

		body["value"] = n.value

		return body
	}

	if len(n.children) > 0 {
		children := make(map[string]interface{}, len(n.children))
		for name, child := range n.children {
			children[name] = child.JSON()
		}

		body["children"] = children
	}

	return body
}
