package graphapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrDanglingReference = errors.New("node reference does not resolve")
	ErrCycle             = errors.New("workflow contains a cycle")
)

// Workflow is the API form of a graph: node id -> node. This is what
// ComfyUI's /prompt endpoint consumes.
type Workflow map[string]PromptNode

// NodeRef points at output slot Slot of node NodeID. It serializes as the
// two element array ComfyUI expects: ["4", 0].
type NodeRef struct {
	NodeID string
	Slot   int
}

func Ref(nodeID string, slot int) NodeRef {
	return NodeRef{NodeID: nodeID, Slot: slot}
}

func (r NodeRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.NodeID, r.Slot})
}

func (r *NodeRef) UnmarshalJSON(b []byte) error {
	var tmp []interface{}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	ref, ok := asNodeRef(tmp)
	if !ok {
		return errors.New("node reference must be [node_id, slot]")
	}
	*r = ref
	return nil
}

// asNodeRef recognizes both typed references and the [string, number]
// arrays produced by decoding a workflow from JSON.
func asNodeRef(v interface{}) (NodeRef, bool) {
	switch value := v.(type) {
	case NodeRef:
		return value, true
	case *NodeRef:
		if value == nil {
			return NodeRef{}, false
		}
		return *value, true
	case []interface{}:
		if len(value) != 2 {
			return NodeRef{}, false
		}
		id, ok := value[0].(string)
		if !ok {
			return NodeRef{}, false
		}
		switch slot := value[1].(type) {
		case float64:
			return NodeRef{NodeID: id, Slot: int(slot)}, true
		case int:
			return NodeRef{NodeID: id, Slot: slot}, true
		case json.Number:
			i, err := slot.Int64()
			if err != nil {
				return NodeRef{}, false
			}
			return NodeRef{NodeID: id, Slot: int(i)}, true
		}
	}
	return NodeRef{}, false
}

// References returns the node references found in the node's inputs, keyed
// by input name.
func (n PromptNode) References() map[string]NodeRef {
	retv := make(map[string]NodeRef)
	for k, v := range n.Inputs {
		if ref, ok := asNodeRef(v); ok {
			retv[k] = ref
		}
	}
	return retv
}

// GetNodesWithClass returns the ids of all nodes with the given class type, sorted.
func (w Workflow) GetNodesWithClass(classType string) []string {
	retv := make([]string, 0)
	for id, n := range w {
		if n.ClassType == classType {
			retv = append(retv, id)
		}
	}
	sort.Strings(retv)
	return retv
}

// Validate checks that every reference resolves to a node of this workflow
// and that the references form an acyclic graph.
func (w Workflow) Validate() error {
	for _, id := range w.sortedIDs() {
		for input, ref := range w[id].References() {
			if _, ok := w[ref.NodeID]; !ok {
				return fmt.Errorf("%w: node %s input %q -> %s", ErrDanglingReference, id, input, ref.NodeID)
			}
		}
	}
	_, err := w.Order()
	return err
}

// Order returns the node ids in dependency order: every node appears after
// all nodes it references. Ties are broken by id so the order is stable.
func (w Workflow) Order() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(w))
	order := make([]string, 0, len(w))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %v", ErrCycle, append(path, id))
		}
		state[id] = visiting

		refs := w[id].References()
		deps := make([]string, 0, len(refs))
		for _, ref := range refs {
			deps = append(deps, ref.NodeID)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := w[dep]; !ok {
				return fmt.Errorf("%w: node %s -> %s", ErrDanglingReference, id, dep)
			}
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}

		state[id] = done
		order = append(order, id)
		return nil
	}

	for _, id := range w.sortedIDs() {
		if err := visit(id, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (w Workflow) sortedIDs() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
