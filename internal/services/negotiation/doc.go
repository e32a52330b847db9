// Package negotiation implements real-time synchronization for vendor and
// customer bargaining sessions.
//
// The app package hosts the websocket boundary: session rooms, message
// fan-out, and asynchronous translation between the two parties' languages.
// The client package is the consumer-side synchronization layer used by the
// mobile and web frontends; the protocol package is the wire contract both
// sides share.
package negotiation
