// Package storage persists task run history.
//
// Only outcomes are stored (one record per finished invocation); scheduled
// entries themselves are never persisted and are not restored on restart.
package storage
