// Package connection implements the connection manager for the upstream
// market data feed.
//
// The Manager:
//   - Owns one WebSocket transport at a time and drives the
//     DISCONNECTED/CONNECTING/CONNECTED/DEGRADED/RECONNECTING state machine
//   - Reconnects with capped exponential backoff plus jitter
//   - Keeps a reference-counted subscription registry and replays it on
//     every (re)connect
//   - Sends heartbeats and marks the connection DEGRADED when echoes stop
//   - Publishes ticks and state changes on the event bus
package connection
