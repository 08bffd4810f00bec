package operator

import (
	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/queue"
)

// Select is the streaming WHERE-clause operator: it passes through
// every heartbeat and every element whose resolved tuple satisfies
// Filter unchanged, sign and lineage untouched (spec §4.7 "Select").
type Select struct {
	In, Out *queue.SimpleQueue
	Resolve Resolver
	Filter  *eval.BEval
	ctx     *eval.Context

	pending queue.Element
	hasPend bool
}

// NewSelect constructs a Select operator reading from in, filtering via
// filter, and writing matches to out.
func NewSelect(in, out *queue.SimpleQueue, resolve Resolver, filter *eval.BEval) *Select {
	return &Select{In: in, Out: out, Resolve: resolve, Filter: filter, ctx: &eval.Context{}}
}

// BindConst pins a role other than RoleInput (typically RoleConst) on
// the evaluation context Filter runs against. Run rebinds RoleInput
// itself on every element; any other role a filter program references
// must be bound once, before the operator starts running.
func (s *Select) BindConst(role eval.Role, t eval.Tuple) {
	s.ctx.Bind(role, t)
}

func (s *Select) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if !s.hasPend {
			e, ok := s.In.Pop()
			if !ok {
				return done, nil
			}
			s.pending = e
			s.hasPend = true
		}
		e := s.pending
		keep := e.Sign == queue.SignNone // heartbeats always pass
		if !keep {
			s.ctx.Bind(eval.RoleInput, s.Resolve(e.Tuple))
			ok, err := s.Filter.Eval(s.ctx)
			if err != nil {
				return done, err
			}
			keep = ok
		}
		if !keep {
			s.hasPend = false
			done++
			continue
		}
		if !pushOrStall(s.Out, e) {
			return done, nil
		}
		s.hasPend = false
		done++
	}
	return done, nil
}
