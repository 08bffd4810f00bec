package queue

import "testing"

func TestSimpleQueuePushPopOrder(t *testing.T) {
	q := NewSimpleQueue(4)
	q.Push(Element{Tuple: 1, Sign: SignPlus})
	q.Push(Element{Tuple: 2, Sign: SignMinus})

	e, ok := q.Pop()
	if !ok || e.Tuple != 1 || e.Sign != SignPlus {
		t.Fatalf("expected FIFO order, got %+v", e)
	}
	e, ok = q.Pop()
	if !ok || e.Tuple != 2 {
		t.Fatalf("expected second element next, got %+v", e)
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected queue empty")
	}
}

func TestSimpleQueueFullRefusesPush(t *testing.T) {
	q := NewSimpleQueue(2)
	if !q.Push(Element{Tuple: 1}) {
		t.Fatalf("expected first push to succeed")
	}
	if !q.Push(Element{Tuple: 2}) {
		t.Fatalf("expected second push to succeed")
	}
	if q.Push(Element{Tuple: 3}) {
		t.Fatalf("expected third push to be refused at capacity")
	}
	q.Pop()
	if !q.Push(Element{Tuple: 3}) {
		t.Fatalf("expected push to succeed once a slot freed up")
	}
}

func TestSimpleQueueWrapsAroundRing(t *testing.T) {
	q := NewSimpleQueue(2)
	q.Push(Element{Tuple: 1})
	q.Pop()
	q.Push(Element{Tuple: 2})
	q.Push(Element{Tuple: 3})
	e, _ := q.Pop()
	if e.Tuple != 2 {
		t.Fatalf("expected wrapped FIFO order, got %+v", e)
	}
	e, _ = q.Pop()
	if e.Tuple != 3 {
		t.Fatalf("expected wrapped FIFO order, got %+v", e)
	}
}

func TestSharedQueueIndependentReaders(t *testing.T) {
	q := NewSharedQueue(8)
	q.RegisterReader(0)
	q.RegisterReader(1)

	q.Push(Element{Tuple: 1})
	q.Push(Element{Tuple: 2})

	e, ok, err := q.Peek(0)
	if err != nil || !ok || e.Tuple != 1 {
		t.Fatalf("reader 0 expected tuple 1, got %+v ok=%v err=%v", e, ok, err)
	}
	q.Advance(0)
	e, ok, err = q.Peek(0)
	if err != nil || !ok || e.Tuple != 2 {
		t.Fatalf("reader 0 expected tuple 2 after advancing, got %+v", e)
	}

	// reader 1 never advanced — it must still see tuple 1.
	e, ok, err = q.Peek(1)
	if err != nil || !ok || e.Tuple != 1 {
		t.Fatalf("reader 1 expected tuple 1 still, got %+v", e)
	}
}

func TestSharedQueueRenormalizesOnSlowestReader(t *testing.T) {
	q := NewSharedQueue(8)
	q.RegisterReader(0)
	q.RegisterReader(1)

	q.Push(Element{Tuple: 1})
	q.Push(Element{Tuple: 2})
	q.Push(Element{Tuple: 3})

	q.Advance(0)
	q.Advance(0)
	if q.Len() != 3 {
		t.Fatalf("expected no trim while reader 1 is still behind, got len=%d", q.Len())
	}

	q.Advance(1)
	if q.Len() != 2 {
		t.Fatalf("expected a one-element trim once both readers passed it, got len=%d", q.Len())
	}
}

func TestSharedQueueBackpressureAtCapacity(t *testing.T) {
	q := NewSharedQueue(2)
	q.RegisterReader(0)

	if !q.Push(Element{Tuple: 1}) {
		t.Fatalf("expected first push to succeed")
	}
	if !q.Push(Element{Tuple: 2}) {
		t.Fatalf("expected second push to succeed")
	}
	if q.Push(Element{Tuple: 3}) {
		t.Fatalf("expected push to be refused while the reader hasn't advanced")
	}
	q.Advance(0)
	if !q.Push(Element{Tuple: 3}) {
		t.Fatalf("expected push to succeed once the reader advanced and renormalized")
	}
}

func TestHeartbeatElementCarriesNoTuple(t *testing.T) {
	hb := Heartbeat(42)
	if hb.Sign != SignNone || hb.Timestamp != 42 {
		t.Fatalf("unexpected heartbeat element: %+v", hb)
	}
}
