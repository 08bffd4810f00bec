// Package plan turns a descriptor DAG into a wired, runnable operator
// graph (spec §6 "Plan instantiation input"). The planner that produces
// the DAG — parsing a query language, choosing join orders, picking
// window sizes — is explicitly out of scope for the core; this package
// only consumes an already-decided descriptor tree.
//
// A descriptor's AEval/BEval/HEval programs, stores, synopses, and
// indexes are likewise the planner's responsibility to construct and
// attach: a Node's Build closure receives its wired input/output queues
// and returns the concrete operator.Operator, so the planner is free to
// close over whatever eval programs and storage it already built for
// that node without this package needing a parallel type for each of
// the dozen operator kinds in the operator package.
package plan

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/contflow/dsce/dsceerr"
	"github.com/contflow/dsce/operator"
	"github.com/contflow/dsce/queue"
)

// ID identifies one descriptor within a Graph.
type ID string

// NewID mints a fresh descriptor id (spec §6: descriptors are named so
// other descriptors can reference them as inputs).
func NewID() ID { return ID(uuid.NewString()) }

// Kind names the operator family a Node instantiates. It has no runtime
// effect on Instantiate — Build already knows its own kind — but it
// makes a Graph's shape readable in logs and in graphviz-style dumps,
// the way the teacher's plan.Tree nodes self-describe via Node.String().
type Kind string

const (
	KindSource           Kind = "source"
	KindSelect           Kind = "select"
	KindProject          Kind = "project"
	KindDistinct         Kind = "distinct"
	KindRowWindow        Kind = "row_window"
	KindTimeWindow       Kind = "time_window"
	KindPartitionWindow  Kind = "partition_window"
	KindIstream          Kind = "istream"
	KindDstream          Kind = "dstream"
	KindRstream          Kind = "rstream"
	KindUnion            Kind = "union"
	KindExcept           Kind = "except"
	KindBinaryJoin       Kind = "binary_join"
	KindStreamRelation   Kind = "stream_relation_join"
	KindGroupBy          Kind = "group_by"
	KindSink             Kind = "sink"
)

// Node is one operator descriptor. Inputs names the ids of the
// descriptors this node reads from, in the positional order its Build
// closure expects (e.g. for a join, Inputs[0] is the left/outer side and
// Inputs[1] is the right/inner side).
type Node struct {
	ID     ID
	Kind   Kind
	Inputs []ID

	// QueuePages overrides config.Config.QueuePages for this node's own
	// output queue; zero means "use the config default". Sink nodes have
	// no output queue and ignore this field.
	QueuePages int

	// Build wires this node's operator: ins holds one already-constructed
	// SimpleQueue per entry in Inputs, in order; out is this node's own
	// output queue (nil for a sink). Build must not retain ins/out beyond
	// what it stores on the returned Operator.
	Build func(ins []*queue.SimpleQueue, out *queue.SimpleQueue) (operator.Operator, error)
}

// Graph is the descriptor DAG (spec §6). Nodes may be listed in any
// order; Instantiate topologically sorts them from their Inputs edges.
type Graph struct {
	Nodes []Node
}

func (g *Graph) index() (map[ID]*Node, error) {
	byID := make(map[ID]*Node, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			return nil, &dsceerr.PlanError{Descriptor: string(n.Kind), Err: dsceerr.ErrBadDescriptor}
		}
		if _, dup := byID[n.ID]; dup {
			return nil, &dsceerr.PlanError{Descriptor: string(n.ID), Err: fmt.Errorf("duplicate descriptor id")}
		}
		if n.Build == nil {
			return nil, &dsceerr.PlanError{Descriptor: string(n.ID), Err: fmt.Errorf("descriptor has no Build closure")}
		}
		byID[n.ID] = n
	}
	return byID, nil
}

// topoSort orders nodes so every input is instantiated before its
// consumer, detecting the two plan violations spec §7 calls "fatal at
// wiring time": a dangling input reference and a cycle.
func topoSort(g *Graph, byID map[ID]*Node) ([]*Node, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[ID]int, len(g.Nodes))
	order := make([]*Node, 0, len(g.Nodes))

	var visit func(n *Node) error
	visit = func(n *Node) error {
		switch state[n.ID] {
		case done:
			return nil
		case visiting:
			return &dsceerr.PlanError{Descriptor: string(n.ID), Err: fmt.Errorf("cycle in descriptor graph")}
		}
		state[n.ID] = visiting
		for _, dep := range n.Inputs {
			depNode, ok := byID[dep]
			if !ok {
				return &dsceerr.PlanError{Descriptor: string(n.ID), Err: dsceerr.ErrUnknownScan}
			}
			if err := visit(depNode); err != nil {
				return err
			}
		}
		state[n.ID] = done
		order = append(order, n)
		return nil
	}

	for i := range g.Nodes {
		if err := visit(&g.Nodes[i]); err != nil {
			return nil, err
		}
	}
	return order, nil
}
