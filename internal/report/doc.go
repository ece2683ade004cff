// Package report produces backlink reports: it fetches provider data, posts a
// loading message, then edits it in place with the result or the error.
//
// Runner.RunScheduled and Runner.NotifyFailure match the scheduler's Job and
// ErrorHandler signatures.
package report
