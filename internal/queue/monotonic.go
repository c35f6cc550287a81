package queue

import (
	"context"
	"fmt"
	"io"

	"github.com/zsiec/hoststream/internal/ring"
)

type monotonic struct {
	base
}

func (q *monotonic) counters() (in, out uint64) {
	return q.r.Load64(offIn), q.r.Load64(offOut)
}

func (q *monotonic) full() bool {
	in, out := q.counters()
	return ring.Full(in, out, q.spec.Depth)
}

func (q *monotonic) Len() int {
	in, out := q.counters()
	return int(ring.Used(in, out))
}

func (q *monotonic) Peek() bool {
	in, out := q.counters()
	return in != out
}

func (q *monotonic) TryPush(payload []byte, meta Meta) error {
	if err := q.checkPayload(payload); err != nil {
		return err
	}
	in, out := q.counters()
	if ring.Full(in, out, q.spec.Depth) {
		return ErrFull
	}
	q.writeSlot(ring.Slot(in, q.spec.Depth), payload, meta)
	// Publication point: the consumer reads nothing of slot in until it
	// observes in+1.
	q.r.Store64(offIn, in+1)
	q.signal(offDataSeq)
	return nil
}

func (q *monotonic) Push(ctx context.Context, payload []byte, meta Meta) error {
	return push(ctx, &q.base, q, payload, meta)
}

func (q *monotonic) headLen() (int, error) {
	in, out := q.counters()
	if in == out {
		return 0, ErrEmpty
	}
	return q.slotLen(ring.Slot(out, q.spec.Depth))
}

func (q *monotonic) tryPopInto(dst []byte) (Meta, int, error) {
	in, out := q.counters()
	if in == out {
		return Meta{}, 0, ErrEmpty
	}
	i := ring.Slot(out, q.spec.Depth)
	n, err := q.slotLen(i)
	if err != nil {
		q.release(out)
		return Meta{}, 0, err
	}
	if n > len(dst) {
		return Meta{}, n, fmt.Errorf("%w: need %d bytes", io.ErrShortBuffer, n)
	}
	meta := q.readSlot(i, dst)
	q.release(out)
	return meta, n, nil
}

func (q *monotonic) release(out uint64) {
	q.r.Store64(offOut, out+1)
	q.signal(offSpaceSeq)
}

func (q *monotonic) PopInto(ctx context.Context, dst []byte) (Meta, int, error) {
	return popInto(ctx, &q.base, q, dst)
}

func (q *monotonic) Pop(ctx context.Context) (Packet, error) {
	return pop(ctx, &q.base, q)
}

func (q *monotonic) TryPop() (Packet, error) {
	return tryPop(q)
}

// Resync moves the consumer to the producer's current position, skipping
// any backlog. A late-joining consumer uses it to start from the newest
// packet.
func (q *monotonic) Resync() {
	in := q.r.Load64(offIn)
	q.r.Store64(offOut, in)
	q.signal(offSpaceSeq)
}
