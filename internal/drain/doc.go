// Package drain implements the foreground loop that moves buffered bytes to the sink.
package drain
