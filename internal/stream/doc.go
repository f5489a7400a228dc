// Package stream implements the per-topic batching buffer that sits
// between the connection and the coordinator.
//
// Ticks are accumulated per topic and flushed either on a timer or as soon
// as a topic holds BatchSize ticks. A flush forwards only the latest tick of
// the cycle together with how many ticks it replaced, so downstream work is
// bounded by the flush rate rather than the tick rate.
package stream
