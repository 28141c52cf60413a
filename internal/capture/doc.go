// Package capture implements the capture frame handler and the sources that
// stand in for the capture peripheral: a synthetic tone, WAV file replay and
// batches received over UDP.
package capture
