// Package segment creates, discovers, and tears down the named shared-memory
// segments that carry hoststream's shared state between a creating process
// and the process that opens it by handle.
//
// A segment is a file under /dev/shm (or the system temp directory when
// /dev/shm is absent) mapped MAP_SHARED into both processes. It begins with a
// fixed header followed by the shared state record the handle points at:
//
//	[0,128)                 segment header
//	[StateOffset, +size)    shared state record
//	[..., total)            headroom, when requested
package segment
