// Package model contains the shared domain types for the streaming layer.
//
// Quotes arrive as tick payloads, are enriched with derived fields on every
// flush and kept in a bounded per-symbol history.
package model
