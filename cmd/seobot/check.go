package main

import (
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"seobot/internal/app"
	"seobot/internal/commands"
	"seobot/internal/report"
)

var checkCmd = &cobra.Command{
	Use:   "check <domain>",
	Short: "Fetch metrics and broken backlinks for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := cliTarget(args[0])
		if err != nil {
			return err
		}
		cfg, err := app.LoadConfig(configPath())
		if err != nil {
			return err
		}
		log := cliLogger()
		prov, err := app.NewProvider(cfg, log)
		if err != nil {
			return err
		}
		runner := report.New(report.Config{}, prov, nil, nil, log, nil)

		spin, _ := pterm.DefaultSpinner.Start("Vérification des backlinks cassés pour " + target)
		metrics, broken, err := runner.Fetch(cmd.Context(), target)
		if err != nil {
			spin.Fail(err.Error())
			return err
		}
		spin.Success(target)

		_ = pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
			{"DR", "Backlinks", "Domaines référents", "Trafic organique", "Mots-clés"},
			{
				strconv.FormatFloat(metrics.DomainRating, 'f', -1, 64),
				strconv.FormatInt(metrics.TotalBacklinks, 10),
				strconv.FormatInt(metrics.ReferringDomains, 10),
				strconv.FormatInt(metrics.OrganicTraffic, 10),
				strconv.FormatInt(metrics.OrganicKeywords, 10),
			},
		}).Render()

		if len(broken) == 0 {
			pterm.Success.Println("Aucun backlink cassé détecté")
			return nil
		}
		counts := make([]string, 0, 4)
		for _, c := range report.CountByStatus(broken) {
			counts = append(counts, strconv.Itoa(c.Status)+": "+strconv.Itoa(c.Count))
		}
		pterm.Warning.Printfln("%d backlinks cassés (%s)", len(broken), strings.Join(counts, ", "))

		rows := pterm.TableData{{"Statut", "URL cassée", "Depuis"}}
		for _, l := range broken {
			rows = append(rows, []string{strconv.Itoa(l.StatusCode), l.SourceURL, l.ReferencingURL})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var backlinksCmd = &cobra.Command{
	Use:   "backlinks <domain>",
	Short: "List live backlinks of a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := cliTarget(args[0])
		if err != nil {
			return err
		}
		cfg, err := app.LoadConfig(configPath())
		if err != nil {
			return err
		}
		prov, err := app.NewProvider(cfg, cliLogger())
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		links, err := prov.FetchBacklinks(cmd.Context(), target, limit)
		if err != nil {
			return err
		}
		rows := pterm.TableData{{"DR", "Depuis", "Vers", "Ancre"}}
		for _, l := range links {
			rows = append(rows, []string{strconv.FormatFloat(l.DomainRating, 'f', -1, 64), l.URLFrom, l.URLTo, l.Anchor})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func init() {
	backlinksCmd.Flags().Int("limit", 20, "number of backlinks")
}

func cliTarget(raw string) (string, error) {
	t := commands.NormalizeTarget(raw)
	if t == "" {
		return "", errInvalidDomain(raw)
	}
	return t, nil
}
