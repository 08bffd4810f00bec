package operator

import (
	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
)

// Project is the streaming SELECT-list operator: for every row it
// allocates a fresh output tuple in Out's store, runs Compute with
// RoleInput bound to the source row and RoleOutput bound to the new one,
// and forwards the input's sign and timestamp unchanged (spec §4.7
// "Project": "sign and lineage are preserved; only the schema changes").
type Project struct {
	In, Out *queue.SimpleQueue
	Resolve Resolver
	Store   *store.SimpleStore
	Compute *eval.AEval
	ctx     *eval.Context

	pending queue.Element
	hasPend bool
	outPtr  mem.Ptr
	outBuf  eval.Tuple
	hasOut  bool
}

func NewProject(in, out *queue.SimpleQueue, resolve Resolver, s *store.SimpleStore, compute *eval.AEval) *Project {
	return &Project{In: in, Out: out, Resolve: resolve, Store: s, Compute: compute, ctx: &eval.Context{}}
}

func (p *Project) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if !p.hasPend {
			e, ok := p.In.Pop()
			if !ok {
				return done, nil
			}
			p.pending = e
			p.hasPend = true
			p.hasOut = false
		}
		e := p.pending
		if e.Sign == queue.SignNone {
			if !pushOrStall(p.Out, e) {
				return done, nil
			}
			p.hasPend = false
			done++
			continue
		}
		if !p.hasOut {
			ptr, buf, err := p.Store.NewTuple()
			if err != nil {
				return done, err
			}
			p.outPtr, p.outBuf, p.hasOut = ptr, buf, true
			p.ctx.Bind(eval.RoleInput, p.Resolve(e.Tuple))
			p.ctx.Bind(eval.RoleOutput, p.outBuf)
			if err := p.Compute.Run(p.ctx); err != nil {
				return done, err
			}
		}
		out := queue.Element{Tuple: p.outPtr, Sign: e.Sign, Timestamp: e.Timestamp}
		if !pushOrStall(p.Out, out) {
			return done, nil
		}
		p.hasPend = false
		done++
	}
	return done, nil
}
