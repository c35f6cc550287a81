// Package event carries out-of-band control signals (bitrate and framerate
// changes, IDR requests, pointer visibility, HDR metadata, stop, and buffer
// overflow) between the capture and delivery sides.
//
// A [Channel] holds one slot per Kind. Raising an event overwrites that
// kind's slot and marks it unread, so a burst of raises before the reader
// looks collapses to the last one. Different kinds are independent and
// carry no ordering relative to each other. A reader never observes a
// half-written event: each slot is a seqlock.
//
// The same table works over a shared segment and over process memory
// ([NewLocal]). Compact two-byte records multiplex the numeric kinds into an
// ordinary queue; see [EncodeRecord] and [DecodeRecord].
package event
