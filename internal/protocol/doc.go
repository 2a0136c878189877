// Package protocol implements the relay's text command grammar: classifying datagrams as
// commands or payloads, parsing command verbs and arguments, and formatting reply envelopes.
package protocol
