// Package reconcile keeps the workbench's chat state consistent while REST
// snapshots and live feed events arrive in any order.
//
// # State
//
// A Reconciler holds, for one account at a time:
//
//   - the session list, one entry per (buyer, item), most recently active first
//   - the active session and its timeline, in creation order
//   - unread counters, which never grow for the active session
//   - the compose buffer
//
// # Merge Rules
//
// A new_message event for the active session is appended to the timeline.
// Every event then updates its session's preview and moves it to the front,
// creating the session if the pair is new. History loads replace the base
// page but keep live messages the page does not already contain, so a slow
// load never erases messages that arrived while it was in flight.
//
// # Failures
//
// Failed loads keep the previous state. A failed send restores the compose
// buffer. Sending before a chat id is known fails without a network call.
// Each failure is also reported to the Notifier.
package reconcile
