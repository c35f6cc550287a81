// Package queue implements the bounded single-producer/single-consumer
// packet queues that live in a shared region. A queue is a header followed
// by a fixed array of packet slots; two coordination disciplines share the
// slot format:
//
//   - Monotonic: producer and consumer counters only grow. The producer
//     copies payload, length, and metadata into slot in%depth and then
//     publishes by storing in+1. It applies backpressure once in-out
//     reaches the depth, so it can never lap the consumer.
//   - Ordered: an order array lists occupied slots oldest first (-1 is
//     empty). [Queue.Push] claims the lowest free slot and appends it; pop takes
//     the head and shifts the rest. A spin lock in the header serializes
//     both sides.
//
// A full queue blocks Push and an empty one blocks Pop; both waits poll the
// caller's context and the owning segment's liveness every poll interval.
package queue
