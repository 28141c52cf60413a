// Package protocol implements the datagram format used to deliver capture
// batches over the network: an 8-byte header followed by big-endian sample words.
package protocol
