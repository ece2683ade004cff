package main

import (
	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"seobot/internal/app"
	"seobot/internal/schedule"
)

var schedulesCmd = &cobra.Command{
	Use:     "schedules",
	Aliases: []string{"schedule", "sched"},
	Short:   "Manage scheduled reports in the schedules file",
	Long: `Manage scheduled reports. A running bot watches the schedules file and
picks up changes made here without a restart.`,
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled reports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openSchedules()
		if err != nil {
			return err
		}
		recs := store.List()
		if len(recs) == 0 {
			pterm.Info.Println("Aucune tâche programmée.")
			return nil
		}
		rows := pterm.TableData{{"ID", "Domaine", "Cron", "Fréquence", "Canal"}}
		for _, r := range recs {
			rows = append(rows, []string{r.ID, r.Target, r.Recurrence, r.Describe(), r.Destination})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var schedulesAddCmd = &cobra.Command{
	Use:   `add <domain> "<frequency>" <channel>`,
	Short: "Add a scheduled report",
	Long: `Add a scheduled report. The channel is a channel id on the default
platform or "<platform>:<id>" (e.g. telegram:-1001234).

` + schedule.FormatHint,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := cliTarget(args[0])
		if err != nil {
			return err
		}
		store, err := openSchedules()
		if err != nil {
			return err
		}
		rec, err := store.Add(schedule.Record{Target: target, Recurrence: args[1], Destination: args[2]})
		if err != nil {
			return withHint(err)
		}
		pterm.Success.Printfln("Rapport programmé pour %s %s dans %s (id %s)", rec.Target, rec.Describe(), rec.Destination, rec.ID)
		return nil
	},
}

var schedulesRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm", "delete"},
	Short:   "Remove a scheduled report",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSchedules()
		if err != nil {
			return err
		}
		ok, err := store.Remove(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return errors.Newf("planification %q non trouvée", args[0])
		}
		pterm.Success.Println("Planification supprimée avec succès.")
		return nil
	},
}

var schedulesParseCmd = &cobra.Command{
	Use:   `parse "<frequency>"`,
	Short: "Show the cron expression and description of a frequency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expr, err := schedule.ParseSimplified(args[0])
		if err != nil {
			return withHint(err)
		}
		pterm.Printfln("%s\t%s", expr, schedule.ToText(expr))
		return nil
	},
}

func init() {
	schedulesCmd.AddCommand(schedulesListCmd, schedulesAddCmd, schedulesRemoveCmd, schedulesParseCmd)
}

func openSchedules() (*schedule.Store, error) {
	cfg, err := app.LoadConfig(configPath())
	if err != nil {
		return nil, err
	}
	return app.OpenSchedules(cfg, cliLogger())
}
