// Package client implements the negotiation-session synchronization layer:
// it keeps a vendor's and a customer's view of an ongoing price negotiation
// consistent over one duplex websocket connection while messages are
// asynchronously translated and while either party may disconnect, retype,
// or reconnect at any time.
//
// The layer is composed of five parts, wired together by New:
//
//   - Transport: owns the websocket, typed emit/subscribe, state events.
//   - Store: the in-memory room snapshot the UI subscribes to.
//   - Reconciler: merges inbound events into the store, idempotently.
//   - Gateway: validates and forwards user intents, debouncing typing.
//   - Supervisor: schedules reconnects and re-joins after transport loss.
//
// The server remains the sole authority for message identity and ordering:
// a locally sent message only appears in the store once the server echoes
// it back through a new_message event.
package client
