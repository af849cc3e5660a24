// Package telenet is the sensor<->HMI transport layer.
//
// Endpoints exchange "frames": 4 byte little-endian CRC-32 of payload, then payload.
// Frame payload is exactly one encoded tele.Update or tele.Command.
// Checksum mismatch is not an error, receivers drop such frames and continue.
//
// Sessions are established over websocket with bearer token authorization,
// optionally strengthened by signed nonce handshake and TOTP second factor.
// Frames may additionally be sealed with AES-GCM keyed from the shared secret.
package telenet
