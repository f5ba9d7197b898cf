package core

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NodeKind identifies the runtime type of a node.
type NodeKind int

const (
	KindState NodeKind = iota
	KindConduit
	KindStateMachine
	KindTransition
)

func (k NodeKind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindConduit:
		return "conduit"
	case KindStateMachine:
		return "state_machine"
	case KindTransition:
		return "transition"
	default:
		return "unknown"
	}
}

// Node is any element of the runtime tree.
type Node interface {
	// Guid is the runtime path guid, unique across the primary instance
	// and all of its references.
	Guid() uuid.UUID
	// NodeGuid is the definition-level identity.
	NodeGuid() uuid.UUID
	Name() string
	QualifiedName() string
	Kind() NodeKind
	Owner() *StateMachine
	Instance() *Instance
	IsActive() bool
	NodeInstance() any
	GetOrCreateNodeInstance() any
	Property(key string) (any, bool)
	SetProperty(key string, value any)

	base() *node
}

type node struct {
	guid       uuid.UUID
	nodeGuid   uuid.UUID
	name       string
	kind       NodeKind
	owner      *StateMachine
	instance   *Instance
	active     bool
	properties map[string]any

	nodeInstance        any
	nodeInstanceCreated bool

	// self is the outer value embedding this node.
	self Node
}

func (n *node) base() *node { return n }
func (n *node) Guid() uuid.UUID { return n.guid }
func (n *node) NodeGuid() uuid.UUID { return n.nodeGuid }
func (n *node) Name() string { return n.name }
func (n *node) Kind() NodeKind { return n.kind }
func (n *node) Owner() *StateMachine { return n.owner }
func (n *node) Instance() *Instance { return n.instance }
func (n *node) IsActive() bool { return n.active }
func (n *node) NodeInstance() any { return n.nodeInstance }
func (n *node) setActive(active bool) { n.active = active }
func (n *node) setOwner(o *StateMachine) { n.owner = o }

// QualifiedName joins the names from the outermost machine down to this
// node with dots. Root machines are left out.
func (n *node) QualifiedName() string {
	var parts []string
	if !n.isRootMachine() {
		parts = append(parts, n.name)
	}
	for o := n.owner; o != nil; o = o.owner {
		if !o.isRootMachine() {
			parts = append(parts, o.name)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

func (n *node) isRootMachine() bool {
	return n.kind == KindStateMachine && n.instance != nil && n.instance.root != nil && &n.instance.root.node == n
}

// GetOrCreateNodeInstance creates the user object registered for this node
// on first use. Later calls return the same object until the instance is
// shut down.
func (n *node) GetOrCreateNodeInstance() any {
	if n.nodeInstanceCreated {
		return n.nodeInstance
	}
	n.nodeInstanceCreated = true
	if n.instance == nil {
		return nil
	}
	if factory := n.instance.registry.factory(n.nodeGuid); factory != nil {
		n.nodeInstance = factory(n.self)
	}
	return n.nodeInstance
}

func (n *node) Property(key string) (any, bool) {
	v, ok := n.properties[key]
	return v, ok
}

func (n *node) SetProperty(key string, value any) {
	if n.properties == nil {
		n.properties = make(map[string]any)
	}
	n.properties[key] = value
}

// pathString joins the node guids from the outermost owner down to this
// node. Owners cross reference boundaries, so a node inside a referenced
// machine includes the path of the referencing node.
func (n *node) pathString() string {
	var ids []string
	for cur := n; cur != nil; {
		ids = append(ids, cur.nodeGuid.String())
		if cur.owner == nil {
			break
		}
		cur = &cur.owner.node
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return strings.Join(ids, "/")
}

// calculatePathGuid derives the runtime guid from the node path. paths
// counts occurrences so that duplicate paths get distinct guids.
func (n *node) calculatePathGuid(paths map[string]int) {
	path := n.pathString()
	count := paths[path]
	paths[path] = count + 1
	if count > 0 {
		path += "_" + strconv.Itoa(count)
	}
	n.guid = PathToGuid(path)
}

// PathToGuid hashes a node path into a guid.
func PathToGuid(path string) uuid.UUID {
	return uuid.NewMD5(uuid.Nil, []byte(path))
}

// resetNode drops per-run data.
func (n *node) resetNode() {
	n.active = false
	n.nodeInstance = nil
	n.nodeInstanceCreated = false
}

func (n *node) evalContext(delta float64) *EvalContext {
	ctx := &EvalContext{Delta: delta, NodeInstance: n.nodeInstance}
	if n.instance != nil {
		ctx.Instance = n.instance
		ctx.Context = n.instance.context
	}
	ctx.Node = n.self
	return ctx
}

func (n *node) evaluateProperties(event PropertyEvent) {
	if n.instance == nil {
		return
	}
	if eval := n.instance.registry.propertyEvaluator(n.nodeGuid); eval != nil {
		eval(n.evalContext(0), event)
	}
}

// rootEvent runs the root start or stop hooks of a node.
func (n *node) rootEvent(start bool) {
	event := PropertiesOnRootStop
	if start {
		event = PropertiesOnRootStart
	}
	n.evaluateProperties(event)
	if n.kind == KindTransition || n.instance == nil || !n.instance.canExecuteStateLogic {
		return
	}
	cb := n.instance.registry.state(n.nodeGuid)
	action := cb.OnRootStop
	if start {
		action = cb.OnRootStart
	}
	if action != nil {
		action(n.evalContext(0))
	}
}
