// Package sink provides the byte sink the drain loop forwards to: a bounded
// transmit FIFO in front of a serial port, a file or stdout.
package sink
