// Package storage keeps the operator audit log: who checked, scheduled or
// unscheduled what, and whether it worked. Report results are not stored.
package storage
