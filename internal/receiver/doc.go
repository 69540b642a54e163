// Package receiver owns the server side flow: accept a secure connection,
// accept its channels, read one frame per channel and decode the body.
//
// Ownership boundary:
// - connection loop and per-connection channel accept loop
// - channel work queue and worker pool
// - per-flow state machine and results
// - admin HTTP surface (health, status, metrics)
package receiver
