// Package event defines the typed events exchanged between components and
// the Bus that dispatches them.
//
// Events:
//   - TickArrived: a tick frame was received for an active topic
//   - FlushOccurred: a stream buffer delivered a batch downstream
//   - ConnectionStateChanged: the connection state machine moved
//
// The Bus delivers events on a single goroutine in publish order.
package event
