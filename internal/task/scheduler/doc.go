// Package scheduler turns schedule records into live cron timers.
//
// Every Reconcile stops the whole previous timer set before building a new
// one, and a generation counter keeps a timer from an older set from running
// its job once a newer set exists. Each timer runs at most one occurrence at a
// time; an occurrence that fails or panics is reported through OnError and the
// timer keeps going.
package scheduler
