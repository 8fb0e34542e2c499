// Package wire defines picocast network messages and stream framing.
//
// Discovery: UDP datagram with JSON Announcement, no acknowledgement.
//
// Session: TCP stream of JSON Message values, one response per request.
// Frame boundaries:
// - line: each frame terminated by '\n', default
// - raw: one read is one frame, compatible with firmware that writes bare JSON
//
// Out of scope:
// - authentication and encryption
// - messages larger than read limit
package wire
