// Package relay implements the UDP group-messaging relay: the datagram endpoint, the
// single dispatch goroutine that classifies and handles each datagram in receipt order,
// the command handlers, broadcast fan-out, and the periodic sweeper. It is the server
// loop described as component G, wired to internal/registry for all state and
// internal/protocol for wire framing.
package relay
