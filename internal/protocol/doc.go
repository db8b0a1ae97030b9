// Package protocol implements the sequence-checked datagram framing.
// Every datagram carries an 8-byte big-endian counter followed by raw
// payload bytes; the receiving side re-anchors on every gap instead of
// waiting for missing datagrams.
package protocol
