// Package pump runs the worker loops that move traffic between the
// in-process mailbox, the shared queues, and the network sink.
//
// The capture side runs a Push loop (mailbox to queues), a Touch loop
// (mailbox geometry to queue metadata), an input Demux loop (Input queue
// to the replayer) and a DropMonitor that reports mailbox overflow on the
// Control queue. The delivery side runs one Pull loop per media channel
// (queue to sink), a Demux on the Control queue, and an Uplink into the
// Input queue. All loops of one process share a [Group]; the shared Stop
// event ends the loops of both processes.
package pump
