package plan

import (
	"unsafe"

	"github.com/contflow/dsce/config"
	"github.com/contflow/dsce/dsceerr"
	"github.com/contflow/dsce/operator"
	"github.com/contflow/dsce/queue"
)

// elementSize is the per-slot cost Instantiate divides a queue's page
// budget by, so config.Config.QueuePages stays the one knob that
// actually appears in spec §6 rather than leaking a second "queue
// capacity in elements" knob into every Node.
var elementSize = int(unsafe.Sizeof(queue.Element{}))

func queueCapacity(cfg config.Config, pages int) int {
	n := pages * cfg.PageSize / elementSize
	if n < 1 {
		n = 1
	}
	return n
}

// Instance is the runnable graph Instantiate produces: every node's
// operator, in the dependency order the scheduler must drive them in so
// that a producer's output queue already holds whatever a consumer pops
// on the very first interleaving (topological order is sufficient, not
// required, for correctness — spec §5's heartbeat/timestamp discipline
// tolerates any legal interleaving — but running in dependency order
// minimizes stall churn on a cold start).
type Instance struct {
	Order     []ID
	Operators map[ID]operator.Operator
	// Queues holds each node's own output queue, keyed by that node's
	// id; sinks have none.
	Queues map[ID]*queue.SimpleQueue
}

// Instantiate wires g into a runnable Instance: it allocates one output
// queue per non-sink node (sized from cfg, or a node's own QueuePages
// override), resolves each node's input queues from its dependencies'
// already-allocated output queues, and calls every node's Build closure
// in dependency order.
//
// Every plan-violation case from spec §7 is detected here and returned
// as a *dsceerr.PlanError before any operator runs: an unresolvable
// input id, a cycle, a duplicate id, or a Build closure that itself
// reports a schema/stub mismatch.
func Instantiate(cfg config.Config, g *Graph) (*Instance, error) {
	byID, err := g.index()
	if err != nil {
		return nil, err
	}
	order, err := topoSort(g, byID)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		Order:     make([]ID, 0, len(order)),
		Operators: make(map[ID]operator.Operator, len(order)),
		Queues:    make(map[ID]*queue.SimpleQueue, len(order)),
	}

	for _, n := range order {
		ins := make([]*queue.SimpleQueue, len(n.Inputs))
		for i, dep := range n.Inputs {
			q, ok := inst.Queues[dep]
			if !ok && byID[dep].Kind != KindSink {
				return nil, &dsceerr.PlanError{Descriptor: string(n.ID), Err: dsceerr.ErrUnknownScan}
			}
			ins[i] = q
		}

		var out *queue.SimpleQueue
		if n.Kind != KindSink {
			pages := n.QueuePages
			if pages == 0 {
				pages = cfg.QueuePages
			}
			out = queue.NewSimpleQueue(queueCapacity(cfg, pages))
		}

		op, err := n.Build(ins, out)
		if err != nil {
			return nil, &dsceerr.PlanError{Descriptor: string(n.ID), Err: err}
		}

		inst.Order = append(inst.Order, n.ID)
		inst.Operators[n.ID] = op
		if out != nil {
			inst.Queues[n.ID] = out
		}
	}

	return inst, nil
}

// RunToQuiescence drives every operator in dependency order, timeSlice
// elements at a time, until a full pass makes no progress anywhere —
// the reference scheduling loop of spec §5's "single-threaded
// cooperative" contract. A production scheduler is expected to replace
// this with its own loop (e.g. one that also watches wall-clock
// heartbeats from a live source); this one is for tests and examples.
func (inst *Instance) RunToQuiescence(timeSlice int) error {
	for {
		progressed := false
		for _, id := range inst.Order {
			n, err := inst.Operators[id].Run(timeSlice)
			if err != nil {
				return &dsceerr.PlanError{Descriptor: string(id), Err: err}
			}
			if n > 0 {
				progressed = true
			}
		}
		if !progressed {
			return nil
		}
	}
}
