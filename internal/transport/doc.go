// Package transport owns the encrypted, multiplexed connection boundary.
//
// Ownership boundary:
// - listener bind and secure handshake (QUIC or TLS+yamux)
// - server identity (self-signed or loaded) and ALPN policy
// - bidirectional channel accept/open on an established connection
// - timeout classification shared by callers
package transport
