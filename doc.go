// Package kephasrelay is a real-time chat relay over WebSocket.
//
// Clients connect, negotiate an encoding through the WebSocket subprotocol and
// exchange text frames. Every frame is either a chat line, fanned out to all
// other connections, or a control command run against the relay state.
//
// # Wire format
//
// Plaintext mode (default, or subprotocol "kephasrelay.plaintext"):
//
//	[S] alice : hello            chat from a TLS connection
//	[I] alice : hello            chat from a plain connection
//	@ setusername alice          control sent by a client
//	@ [SERVER] onlineusers a,b   control sent by the relay
//
// Control frames start with the "@" sigil, followed by the verb and one token
// of comma separated parameters. Parameters therefore cannot contain commas or
// whitespace.
//
// Structured mode (subprotocol "kephasrelay.structured" or "json") encodes
// outbound messages as JSON objects:
//
//	{"author":"alice","secure":false,"payload":"hello"}
//	{"control":"onlineusers","params":["a","b"],"author":"[SERVER]"}
//
// Decoding structured frames is not implemented; such frames are answered
// with an error control.
//
// # Commands
//
//   - setusername <name>: set the display name of the connection
//   - getonlineusers: reply with the display names of every connection
//
// The relay itself sends status (ready, after connecting), userleave (when
// another connection closes), error (when a frame could not be handled) and
// onlineusers.
//
// # Packages
//
//   - ws: WebSocket transport (rate limiting, origin checks, TLS)
//   - internal/relay: registry, connections, command interpreter
//   - internal/protocol: message model and wire codec
//   - internal/logsink: escaped, timestamped event log
//   - cmd/relay-server: the server binary
package kephasrelay
