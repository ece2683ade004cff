// Package schedule holds schedule records, their shorthand recurrence
// grammar and the file-backed store they live in.
package schedule

import "strings"

// Record is one persisted schedule. Recurrence is always a canonical
// five-field cron expression once stored.
type Record struct {
	ID          string `json:"id" yaml:"id"`
	Target      string `json:"domain" yaml:"domain"`
	Recurrence  string `json:"cronExpression" yaml:"cronExpression"`
	Destination string `json:"channel" yaml:"channel"`
}

// Key identifies the record for the scheduler; records without an id fall
// back to target+destination.
func (r Record) Key() string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}
	return r.Target + "|" + r.Destination
}

// Describe renders the recurrence as text.
func (r Record) Describe() string { return ToText(r.Recurrence) }
