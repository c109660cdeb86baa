// Package release defines the brencher data model: releases, environments,
// the tagged Result type carried by executor outcomes, and the change events
// emitted by the state store.
//
// # Design Principles
//
//   - Pure data structures with JSON tags matching the persisted snapshot
//   - Expected outcomes are values (Result), never errors
//   - Copy semantics: Clone returns a value sharing no mutable state
//
// # Results
//
// Result[T] has three observable states. The zero value is pending (no
// outcome yet) and serializes as null. Success and Failure serialize as a
// tagged union:
//
//	{"kind": "success", "value": ...}
//	{"kind": "failure", "error": "..."}
package release
