package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"seobot/internal/report"
	"seobot/internal/schedule"
	"seobot/internal/transport"
)

const (
	checkUsage    = "Veuillez spécifier un domaine à vérifier. Exemple: `/ahrefs-check example.com`"
	scheduleUsage = "Usage: `/ahrefs-schedule domaine \"fréquence\" #canal`\n\n" +
		"*Exemples:*\n" +
		"• `/ahrefs-schedule example.com \"daily 9h\"` (tous les jours à 9h00)\n" +
		"• `/ahrefs-schedule example.com \"weekly 14h30 lundi\"` (tous les lundis à 14h30)\n" +
		"• `/ahrefs-schedule example.com \"monthly 10h 1\"` (le 1er jour de chaque mois à 10h00)\n" +
		"• `/ahrefs-schedule example.com \"0 9 * * 1\"` (expression cron: le lundi à 9h00)"
	unscheduleUsage = "Veuillez spécifier l'identifiant de la planification. Utilisez `/ahrefs-list` pour les voir."
	invalidDomain   = "Domaine invalide: *%s*. Exemple: `example.com`"
	notUnderstood   = "Désolé, je n'ai pas compris cette commande. Essayez `@AhrefsBot check domaine.com` ou `@AhrefsBot help`."
	removedText     = ":white_check_mark: Planification supprimée avec succès."
	notRemovedText  = "Erreur: Planification non trouvée ou erreur lors de la suppression."
	noSchedulesText = "Aucune tâche programmée."
)

func (r *Dispatcher) handleCheck(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		r.reply(ctx, req, checkUsage)
		return nil
	}
	return r.check(ctx, req, req.Args[0])
}

func (r *Dispatcher) check(ctx context.Context, req *Request, raw string) error {
	target := NormalizeTarget(raw)
	if target == "" {
		r.reply(ctx, req, fmt.Sprintf(invalidDomain, raw))
		return nil
	}
	start := time.Now()
	err := r.d.Checker.Run(ctx, target, req.Chat)
	r.audit(ctx, req, cmdCheck, target, start, err, nil)
	if err != nil && !errors.Is(err, report.ErrNotified) {
		return err
	}
	return nil
}

func (r *Dispatcher) handleSchedule(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		r.reply(ctx, req, scheduleUsage)
		return nil
	}
	start := time.Now()
	target := NormalizeTarget(req.Args[0])
	if target == "" {
		r.reply(ctx, req, fmt.Sprintf(invalidDomain, req.Args[0]))
		return nil
	}
	freq, dest := splitScheduleArgs(req.Args[1:])

	to := req.Chat
	to.Thread = ""
	if dest != "" {
		to = transport.ParseDestination(ParseChannel(dest))
		if to.Platform == "" {
			to.Platform = req.Platform
		}
	}

	expr, err := schedule.ParseSimplified(freq)
	if err != nil {
		r.reply(ctx, req, errorText(err))
		r.audit(ctx, req, "schedule.add", target, start, err, map[string]string{"frequency": freq})
		return nil
	}
	rec, err := r.d.Schedules.Add(schedule.Record{
		Target:      target,
		Recurrence:  expr,
		Destination: transport.FormatDestination(to, r.d.Sink.Default()),
	})
	r.audit(ctx, req, "schedule.add", target, start, err, map[string]string{"recurrence": expr, "id": rec.ID})
	if err != nil {
		r.reply(ctx, req, errorText(err))
		return err
	}
	r.reconcile(req)
	r.reply(ctx, req, fmt.Sprintf(":white_check_mark: Rapport programmé pour *%s* %s dans %s.",
		rec.Target, rec.Describe(), r.d.Sink.FormatChannel(to)))
	return nil
}

// splitScheduleArgs separates the frequency from an optional trailing
// destination. Quoted frequencies arrive as one token; unquoted ones
// ("daily 9h", "0 9 * * 1") are rejoined.
func splitScheduleArgs(args []string) (freq, dest string) {
	if len(args) == 1 {
		return args[0], ""
	}
	if _, err := schedule.ParseSimplified(args[0]); err == nil {
		return args[0], args[1]
	}
	last := args[len(args)-1]
	if looksLikeChannel(last) {
		return strings.Join(args[:len(args)-1], " "), last
	}
	return strings.Join(args, " "), ""
}

func looksLikeChannel(s string) bool {
	if strings.HasPrefix(s, "<#") || strings.HasPrefix(s, "#") {
		return true
	}
	return transport.ParseDestination(s).Platform != ""
}

func (r *Dispatcher) handleList(ctx context.Context, req *Request) error {
	recs := r.d.Schedules.List()
	if len(recs) == 0 {
		r.reply(ctx, req, noSchedulesText)
		return nil
	}
	var b strings.Builder
	b.WriteString("*Rapports Ahrefs programmés*\n")
	buttons := make([]transport.Button, 0, len(recs))
	for _, rec := range recs {
		to := transport.ParseDestination(rec.Destination)
		fmt.Fprintf(&b, "\n*%s*\n%s\nCanal: %s\nID: `%s`\n", rec.Target, rec.Describe(), r.d.Sink.FormatChannel(to), rec.ID)
		buttons = append(buttons, transport.Button{
			Label:  "Supprimer " + rec.Target,
			Action: ActionDeleteSchedule,
			Value:  rec.ID,
			Style:  transport.StyleDanger,
		})
	}
	r.reply(ctx, req, b.String(), buttons...)
	return nil
}

func (r *Dispatcher) handleUnschedule(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		r.reply(ctx, req, unscheduleUsage)
		return nil
	}
	return r.unschedule(ctx, req, req.Args[0])
}

func (r *Dispatcher) unschedule(ctx context.Context, req *Request, id string) error {
	start := time.Now()
	rec, _ := r.d.Schedules.Get(id)
	ok, err := r.d.Schedules.Remove(id)
	r.audit(ctx, req, "schedule.remove", rec.Target, start, err, map[string]string{"id": id})
	if err != nil || !ok {
		r.reply(ctx, req, notRemovedText)
		return err
	}
	r.reconcile(req)
	r.reply(ctx, req, removedText)
	return nil
}

func (r *Dispatcher) handleStatus(ctx context.Context, req *Request) error {
	snap := r.d.Scheduler.Snapshot()
	var b strings.Builder
	state := "arrêté"
	if snap.Running {
		state = "actif"
	}
	tz := snap.Timezone
	if tz == "" {
		tz = "Local"
	}
	fmt.Fprintf(&b, "*Planificateur %s* (fuseau %s, génération %d)\n", state, tz, snap.Generation)
	if len(snap.Timers) == 0 {
		b.WriteString(noSchedulesText)
	}
	for _, t := range snap.Timers {
		fmt.Fprintf(&b, "\n*%s* %s\n", t.Target, schedule.ToText(t.Recurrence))
		fmt.Fprintf(&b, "Prochain: %s, précédent: %s\n", stamp(t.Next), stamp(t.Prev))
		fmt.Fprintf(&b, "Exécutions: %d, échecs: %d, ignorées: %d", t.Runs, t.Failures, t.Skipped)
		if t.Running {
			b.WriteString(" (en cours)")
		}
		if t.LastError != "" {
			fmt.Fprintf(&b, "\nDernière erreur: %s", t.LastError)
		}
		b.WriteByte('\n')
	}
	r.reply(ctx, req, b.String())
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02/01/2006 15:04")
}

func (r *Dispatcher) handleHelp(ctx context.Context, req *Request) error {
	r.reply(ctx, req, helpText())
	return nil
}

func (r *Dispatcher) handleUnknown(ctx context.Context, req *Request) error {
	r.reply(ctx, req, notUnderstood)
	return nil
}

// handleConversation serves mentions and direct messages.
func (r *Dispatcher) handleConversation(ctx context.Context, req *Request) error {
	text := strings.Join(req.Args, " ")
	if m := reMentionCheck.FindStringSubmatch(text); m != nil {
		req.Command = cmdCheck
		return r.check(ctx, req, m[1])
	}
	if reMentionHelp.MatchString(text) {
		req.Command = cmdHelp
		return r.handleHelp(ctx, req)
	}
	r.reply(ctx, req, notUnderstood)
	return nil
}

func (r *Dispatcher) handleAction(ctx context.Context, req *Request) error {
	switch req.Action.Name {
	case report.ActionShowMore:
		return r.d.Checker.ShowMore(ctx, req.Action.Value, req.Chat)
	case ActionDeleteSchedule:
		return r.unschedule(ctx, req, req.Action.Value)
	default:
		req.Log.Debug("unknown action ignored")
		return nil
	}
}

// errorText renders an error for the user: message plus hints.
func errorText(err error) string {
	s := "Erreur: " + err.Error()
	if h := errors.FlattenHints(err); h != "" {
		s += "\n" + h
	}
	return s
}
