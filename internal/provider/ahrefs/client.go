// Package ahrefs is a small client for the Ahrefs v3 site-explorer API.
package ahrefs

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"seobot/internal/provider"
	logx "seobot/pkg/logx"
)

const (
	DefaultBaseURL = "https://api.ahrefs.com/v3/site-explorer"
	defaultTimeout = 30 * time.Second
	defaultLimit   = 100
	maxBodyBytes   = 8 << 20
)

type Config struct {
	Token      string
	BaseURL    string
	Timeout    time.Duration
	RatePerSec int // 0 means unlimited
	Limit      int
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

var _ provider.Provider = (*Client)(nil)
var _ provider.BacklinkLister = (*Client)(nil)

// New builds a client. hc may be nil.
func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &Client{cfg: cfg, http: hc, limiter: lim, log: log.With(logx.String("comp", "ahrefs"))}
}

// Configured reports whether an API token is set.
func (c *Client) Configured() bool { return strings.TrimSpace(c.cfg.Token) != "" }

func (c *Client) FetchBrokenLinks(ctx context.Context, target string) ([]provider.BrokenLink, error) {
	op := "récupération des backlinks cassés pour " + target
	body, err := c.get(ctx, "broken-backlinks", op, url.Values{
		"target": {target},
		"mode":   {"domain"},
		"limit":  {strconv.Itoa(c.cfg.Limit)},
		"select": {"url_from,url_to,http_code"},
	})
	if err != nil {
		return nil, err
	}
	rows := gjson.GetBytes(body, "brokenBacklinks")
	if !rows.Exists() {
		rows = gjson.GetBytes(body, "backlinks")
	}
	if !rows.IsArray() {
		return nil, unexpectedFormat(op)
	}
	out := make([]provider.BrokenLink, 0, len(rows.Array()))
	rows.ForEach(func(_, row gjson.Result) bool {
		out = append(out, provider.BrokenLink{
			SourceURL:      row.Get("url_to").String(),
			ReferencingURL: row.Get("url_from").String(),
			StatusCode:     int(row.Get("http_code").Int()),
		})
		return true
	})
	return out, nil
}

func (c *Client) FetchDomainMetrics(ctx context.Context, target string) (provider.DomainMetrics, error) {
	op := "récupération des métriques pour " + target
	body, err := c.get(ctx, "metrics", op, url.Values{
		"target": {target},
		"mode":   {"domain"},
	})
	if err != nil {
		return provider.DomainMetrics{}, err
	}
	m := gjson.GetBytes(body, "metrics")
	if !m.IsObject() {
		return provider.DomainMetrics{}, unexpectedFormat(op)
	}
	return provider.DomainMetrics{
		DomainRating:     m.Get("domain_rating").Float(),
		TotalBacklinks:   m.Get("backlinks").Int(),
		ReferringDomains: m.Get("referring_domains").Int(),
		OrganicTraffic:   m.Get("organic_traffic").Int(),
		OrganicKeywords:  m.Get("organic_keywords").Int(),
	}, nil
}

func (c *Client) FetchBacklinks(ctx context.Context, target string, limit int) ([]provider.Backlink, error) {
	if limit <= 0 {
		limit = c.cfg.Limit
	}
	op := "récupération des backlinks pour " + target
	body, err := c.get(ctx, "all-backlinks", op, url.Values{
		"target":   {target},
		"mode":     {"domain"},
		"limit":    {strconv.Itoa(limit)},
		"order_by": {"domain_rating_source:desc"},
	})
	if err != nil {
		return nil, err
	}
	rows := gjson.GetBytes(body, "backlinks")
	if !rows.IsArray() {
		return nil, unexpectedFormat(op)
	}
	out := make([]provider.Backlink, 0, len(rows.Array()))
	rows.ForEach(func(_, row gjson.Result) bool {
		dr := row.Get("domain_rating_source")
		if !dr.Exists() {
			dr = row.Get("domain_rating")
		}
		out = append(out, provider.Backlink{
			URLFrom:      row.Get("url_from").String(),
			URLTo:        row.Get("url_to").String(),
			DomainRating: dr.Float(),
			Anchor:       row.Get("anchor").String(),
		})
		return true
	})
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint, op string, q url.Values) ([]byte, error) {
	if !c.Configured() {
		return nil, errors.Mark(
			errors.New("Clé API Ahrefs manquante. Définissez AHREFS_API_KEY dans votre environnement"),
			provider.ErrProviderRejected)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "rate limiter"), provider.ErrProviderUnavailable)
	}

	q.Set("token", c.cfg.Token)
	q.Set("output", "json")
	u := c.cfg.BaseURL + "/" + endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "build request for %s", op), provider.ErrProviderUnavailable)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", logx.String("endpoint", endpoint), logx.Err(redact(err, c.cfg.Token)))
		return nil, errors.Mark(errors.New("Erreur de connexion: impossible de contacter l'API Ahrefs"), provider.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Mark(errors.New("Erreur de connexion: réponse de l'API Ahrefs interrompue"), provider.ErrProviderUnavailable)
	}
	c.log.Debug("request done",
		logx.String("endpoint", endpoint),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, statusError(resp.StatusCode, body, op)
}

func statusError(status int, body []byte, op string) error {
	switch status {
	case http.StatusUnauthorized:
		return errors.Mark(errors.New("Erreur d'authentification: vérifiez votre clé API Ahrefs"), provider.ErrProviderRejected)
	case http.StatusForbidden:
		return errors.Mark(errors.New("Accès refusé: votre compte n'a pas les permissions nécessaires"), provider.ErrProviderRejected)
	case http.StatusTooManyRequests:
		return errors.Mark(errors.New("Quota API dépassé: vous avez atteint la limite de requêtes Ahrefs"), provider.ErrProviderRejected)
	case http.StatusNotFound:
		return errors.Mark(errors.Newf("Endpoint introuvable: l'API pour %s n'existe pas ou a changé", op), provider.ErrProviderUnavailable)
	}
	kind := provider.ErrProviderUnavailable
	if status < 500 {
		kind = provider.ErrProviderRejected
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.Raw
		}
		return errors.Mark(errors.Newf("Erreur API (%d): %s", status, msg), kind)
	}
	return errors.Mark(errors.Newf("Erreur HTTP %d lors de %s", status, op), kind)
}

func unexpectedFormat(op string) error {
	return errors.Mark(errors.Newf("Format de réponse inattendu de l'API Ahrefs (%s)", op), provider.ErrProviderUnavailable)
}

// redact keeps the API token out of logged URLs.
func redact(err error, token string) error {
	if err == nil || token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "***"))
}
