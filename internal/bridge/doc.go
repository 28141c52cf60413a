// Package bridge assembles the capture source, transcoder, ring buffer,
// drain loop and output into one supervised pipeline.
package bridge
