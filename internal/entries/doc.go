// Package entries provides ordered key/value stores used by the deadline scheduler.
//
// A store keeps at most one Entry per key and exposes the entries in a fixed
// order. Two orderings are available:
//   - InsertionOrdered: arrival order (re-adding a key moves it to the back)
//   - Sorted: ascending by value, ties broken by insertion sequence
//
// Stores do no locking. The owner (deadline.Scheduler) serializes every call.
package entries
