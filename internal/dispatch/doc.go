// Package dispatch turns command envelopes into native work.
//
// The Dispatcher owns the pending-call table. Each call moves through
//
//	created -> authorized -> dispatched -> completed | failed | cancelled
//
// and resolves its future exactly once. Authorization and argument checks
// run synchronously inside Submit; a call that fails them never reaches a
// handler. Authorized calls wait on a bounded queue for one of a fixed set
// of workers, so slow native work never runs on the submitting goroutine
// and never grows without bound: a full queue fails fast with Overloaded.
//
// Cancellation is cooperative. A queued call is resolved as Cancelled the
// moment its context ends. A running call's handler sees the cancelled
// context; whatever it returns afterwards is discarded.
package dispatch
