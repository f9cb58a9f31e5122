// Package storage persists reminders, their notification policies and their
// delivery tasks.
//
// Drivers:
//   - "memory": process-local maps, for tests and dry runs
//   - "sqlite": a SQLite database file (modernc.org/sqlite, no cgo)
//
// Task transitions are written with CompareAndSwap, a conditional update keyed
// on the task id plus its expected state and attempt count. A false result
// means another writer got there first and the caller should drop its change.
package storage
