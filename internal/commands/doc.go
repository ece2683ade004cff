// Package commands routes chat updates (slash commands, mentions, direct
// messages and button presses) to report checks and schedule operations.
//
// Every schedule mutation is followed by a scheduler reconcile with the
// store's current list.
package commands
