// Package audio holds the byte queue that carries a stream between a
// source and a sink, and the PCM format description used to keep device
// reads and writes aligned to whole frames.
package audio
