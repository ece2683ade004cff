// Package provider describes the SEO metrics source reports are built from.
package provider

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrProviderUnavailable marks network failures, timeouts and server-side errors.
	ErrProviderUnavailable = errors.New("metrics provider unavailable")
	// ErrProviderRejected marks authorization and quota failures.
	ErrProviderRejected = errors.New("metrics provider rejected the request")
)

type BrokenLink struct {
	SourceURL      string `json:"source_url"`      // the dead URL on the target
	ReferencingURL string `json:"referencing_url"` // the page linking to it
	StatusCode     int    `json:"status_code"`
}

type DomainMetrics struct {
	DomainRating     float64 `json:"domain_rating"`
	TotalBacklinks   int64   `json:"total_backlinks"`
	ReferringDomains int64   `json:"referring_domains"`
	OrganicTraffic   int64   `json:"organic_traffic"`
	OrganicKeywords  int64   `json:"organic_keywords"`
}

type Backlink struct {
	URLFrom      string  `json:"url_from"`
	URLTo        string  `json:"url_to"`
	DomainRating float64 `json:"domain_rating"`
	Anchor       string  `json:"anchor,omitempty"`
}

type Provider interface {
	FetchBrokenLinks(ctx context.Context, target string) ([]BrokenLink, error)
	FetchDomainMetrics(ctx context.Context, target string) (DomainMetrics, error)
}

// BacklinkLister is implemented by providers that can list live backlinks.
type BacklinkLister interface {
	FetchBacklinks(ctx context.Context, target string, limit int) ([]Backlink, error)
}

// Kind names the provider error class of err: "rejected", "unavailable" or "".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrProviderRejected):
		return "rejected"
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	default:
		return ""
	}
}
