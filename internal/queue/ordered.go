package queue

import (
	"context"
	"fmt"
	"io"

	"github.com/zsiec/hoststream/internal/layout"
	"github.com/zsiec/hoststream/internal/ring"
)

type ordered struct {
	base
	lock  layout.SpinLock
	order orderCells
}

// orderCells exposes the shared order array to the ring helpers.
type orderCells struct {
	r layout.Region
	n int
}

func (c orderCells) Len() int           { return c.n }
func (c orderCells) Get(i int) int32    { return c.r.LoadInt32(offOrder + 4*i) }
func (c orderCells) Set(i int, v int32) { c.r.StoreInt32(offOrder+4*i, v) }

func newOrdered(b base) *ordered {
	return &ordered{
		base:  b,
		lock:  layout.NewSpinLock(b.r, offLock),
		order: orderCells{r: b.r, n: b.spec.Depth},
	}
}

func (q *ordered) reset() {
	ring.Reset(q.order)
}

func (q *ordered) full() bool {
	return q.order.Get(q.spec.Depth-1) != ring.Empty
}

func (q *ordered) Len() int { return ring.Count(q.order) }

func (q *ordered) Peek() bool { return q.order.Get(0) != ring.Empty }

func (q *ordered) TryPush(payload []byte, meta Meta) error {
	if err := q.checkPayload(payload); err != nil {
		return err
	}
	q.lock.Lock()
	slot := ring.FreeSlot(q.order)
	if slot < 0 {
		q.lock.Unlock()
		return ErrFull
	}
	q.writeSlot(slot, payload, meta)
	ring.Append(q.order, slot)
	q.lock.Unlock()

	q.r.Store64(offIn, q.r.Load64(offIn)+1)
	q.signal(offDataSeq)
	return nil
}

func (q *ordered) Push(ctx context.Context, payload []byte, meta Meta) error {
	return push(ctx, &q.base, q, payload, meta)
}

func (q *ordered) headLen() (int, error) {
	head := q.order.Get(0)
	if head == ring.Empty {
		return 0, ErrEmpty
	}
	return q.slotLen(int(head))
}

func (q *ordered) tryPopInto(dst []byte) (Meta, int, error) {
	if !q.Peek() {
		return Meta{}, 0, ErrEmpty
	}
	q.lock.Lock()
	head := q.order.Get(0)
	if head == ring.Empty {
		q.lock.Unlock()
		return Meta{}, 0, ErrEmpty
	}
	n, err := q.slotLen(int(head))
	if err != nil {
		ring.PopFront(q.order)
		q.lock.Unlock()
		q.released()
		return Meta{}, 0, err
	}
	if n > len(dst) {
		q.lock.Unlock()
		return Meta{}, n, fmt.Errorf("%w: need %d bytes", io.ErrShortBuffer, n)
	}
	meta := q.readSlot(int(head), dst)
	ring.PopFront(q.order)
	q.lock.Unlock()
	q.released()
	return meta, n, nil
}

func (q *ordered) released() {
	q.r.Store64(offOut, q.r.Load64(offOut)+1)
	q.signal(offSpaceSeq)
}

func (q *ordered) PopInto(ctx context.Context, dst []byte) (Meta, int, error) {
	return popInto(ctx, &q.base, q, dst)
}

func (q *ordered) Pop(ctx context.Context) (Packet, error) {
	return pop(ctx, &q.base, q)
}

func (q *ordered) TryPop() (Packet, error) {
	return tryPop(q)
}

// Resync drops every queued record.
func (q *ordered) Resync() {
	q.lock.Lock()
	dropped := ring.Count(q.order)
	ring.Reset(q.order)
	q.lock.Unlock()
	if dropped > 0 {
		q.r.Store64(offOut, q.r.Load64(offOut)+uint64(dropped))
		q.signal(offSpaceSeq)
	}
}
