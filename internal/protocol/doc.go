// Package protocol owns the application message contract carried in frames.
//
// Ownership boundary:
// - frame header/body primitives (subpackage frame)
// - message construction
// - body text decoding
package protocol
