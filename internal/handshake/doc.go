// Package handshake drives a single honeypot connection through the
// Terraria connection handshake.
//
// The Machine is pure: it consumes decoded packets, records what it learns
// in an events.Fingerprint and returns the packets to send back. It never
// touches the network, so every transition can be exercised directly.
//
//	AwaitConnectRequest -> [AwaitPassword ->] AwaitPlayerInfo -> Completed
//
// Any state may move to Terminated. Completed and Terminated are final.
package handshake
