// Package notifier delivers rendered reminder messages.
//
// A Router fans one Message out to the named Channels (log, telegram, ...),
// throttled by a shared rate limiter. Delivery succeeds only when every
// requested channel accepted the message; retry policy lives with the caller.
//
// # History
//
// For debugging and operator visibility, the router keeps a small in-memory
// history of recent deliveries.
package notifier
