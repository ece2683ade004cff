package main

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"seobot/internal/app"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent operator actions from the audit log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := app.LoadConfig(configPath())
		if err != nil {
			return err
		}
		st, err := app.OpenAudit(cfg, cliLogger())
		if err != nil {
			return err
		}
		if st == nil {
			return errors.WithHint(errors.New("audit log is disabled"), `set "storage": {"driver": "file"} or "sqlite" in the config`)
		}
		defer st.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := st.RecentAudit(cmd.Context(), limit)
		if err != nil {
			return err
		}
		rows := pterm.TableData{{"Date", "Plateforme", "Utilisateur", "Action", "Cible", "OK", "Durée (ms)", "Erreur"}}
		for _, e := range entries {
			user := e.ActorName
			if user == "" {
				user = e.ActorID
			}
			rows = append(rows, []string{
				e.At.Local().Format("2006-01-02 15:04:05"),
				e.Platform,
				user,
				e.Action,
				e.Target,
				strconv.FormatBool(e.OK),
				strconv.FormatInt(e.TookMS, 10),
				e.Error,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func init() {
	auditCmd.Flags().Int("limit", 20, "number of entries, newest first")
}
