// Package audio holds the byte-level plumbing between capture and sink.
// It implements the single-producer/single-consumer circular byte buffer, the
// sample transcoder that reverses word byte order for the wire, and a PCM WAV
// codec used by file-backed capture sources.
package audio
