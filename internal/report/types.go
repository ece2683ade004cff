package report

import (
	"time"

	"github.com/cockroachdb/errors"

	"seobot/internal/provider"
)

// ErrNotified marks errors that were already posted to the destination.
var ErrNotified = errors.New("error already reported to the channel")

const (
	ActionShowMore = "show_more"

	defaultTopN  = 10
	showMorePage = 50
)

type Config struct {
	// TopN is how many broken links the first message lists.
	TopN int
}

// Report is what the cache keeps for "show more".
type Report struct {
	ID        string
	Target    string
	Metrics   provider.DomainMetrics
	Broken    []provider.BrokenLink
	Generated time.Time
	Took      time.Duration
}

// StatusCount is the number of broken links answering with Status.
type StatusCount struct {
	Status int
	Count  int
}
