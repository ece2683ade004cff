package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"seobot/internal/provider"
)

func loadingText(target string) string {
	return fmt.Sprintf(":hourglass_flowing_sand: Vérification des backlinks cassés pour *%s* en cours...", target)
}

func failureText(target string, scheduled bool, err error) string {
	if scheduled {
		return fmt.Sprintf(":warning: Erreur lors de la vérification programmée pour *%s*: %s", target, err.Error())
	}
	return fmt.Sprintf(":x: Erreur lors de l'analyse de *%s*: %s", target, err.Error())
}

func cleanText(target string, m provider.DomainMetrics) string {
	p := printer()
	return p.Sprintf(":white_check_mark: Aucun backlink cassé détecté pour *%s* ! (DR: %s, Backlinks: %d)",
		target, rating(m.DomainRating), m.TotalBacklinks)
}

// ExpiredText is shown when a follow-up references a report no longer cached.
func ExpiredText() string {
	return ":hourglass: Ce rapport a expiré. Relancez la vérification pour obtenir des résultats à jour."
}

// CountByStatus groups links by HTTP status, most frequent first.
func CountByStatus(links []provider.BrokenLink) []StatusCount {
	m := map[int]int{}
	for _, l := range links {
		m[l.StatusCode]++
	}
	out := make([]StatusCount, 0, len(m))
	for st, n := range m {
		out = append(out, StatusCount{Status: st, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Status < out[j].Status
	})
	return out
}

// Render formats the first message of a report with at most topN links.
func Render(rep Report, topN int) string {
	p := printer()
	var b strings.Builder
	fmt.Fprintf(&b, "*Rapport de backlinks cassés pour %s*\n", rep.Target)
	m := rep.Metrics
	b.WriteString(p.Sprintf("DR: %s | Backlinks: %d | Domaines référents: %d | Trafic organique: %d\n",
		rating(m.DomainRating), m.TotalBacklinks, m.ReferringDomains, m.OrganicTraffic))

	counts := CountByStatus(rep.Broken)
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s: %d", statusLabel(c.Status), c.Count))
	}
	b.WriteString(p.Sprintf("\n:x: *%d backlinks cassés* (%s)\n", len(rep.Broken), strings.Join(parts, ", ")))

	n := len(rep.Broken)
	if topN > 0 && n > topN {
		n = topN
	}
	writeLinks(&b, rep.Broken[:n], 0)
	if rest := len(rep.Broken) - n; rest > 0 {
		b.WriteString(p.Sprintf("\n_… et %d autres._", rest))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderMore formats links[from:] as follow-up pages of at most page links.
func RenderMore(rep Report, from, page int) []string {
	if from >= len(rep.Broken) {
		return []string{fmt.Sprintf("Aucun autre backlink cassé pour *%s*.", rep.Target)}
	}
	if page <= 0 {
		page = showMorePage
	}
	var out []string
	for i := from; i < len(rep.Broken); i += page {
		end := i + page
		if end > len(rep.Broken) {
			end = len(rep.Broken)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "*%s* (suite, %d-%d sur %d)\n", rep.Target, i+1, end, len(rep.Broken))
		writeLinks(&b, rep.Broken[i:end], i)
		out = append(out, strings.TrimRight(b.String(), "\n"))
	}
	return out
}

func writeLinks(b *strings.Builder, links []provider.BrokenLink, offset int) {
	for i, l := range links {
		fmt.Fprintf(b, "%d. %s (%s)\n    depuis %s\n", offset+i+1, l.SourceURL, statusLabel(l.StatusCode), l.ReferencingURL)
	}
}

func statusLabel(code int) string {
	if code <= 0 {
		return "inconnu"
	}
	return strconv.Itoa(code)
}

func rating(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// printer is created per call; message.Printer is not safe for concurrent use.
func printer() *message.Printer {
	return message.NewPrinter(language.French)
}
