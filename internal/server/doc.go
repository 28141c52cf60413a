// Package server implements the HTTP API for monitoring the bridge and
// clearing a latched capture error.
package server
