package commands

import "strings"

// MenuEntry is one command advertised in a platform command menu.
type MenuEntry struct {
	Command     string
	Description string
}

var menu = []MenuEntry{
	{cmdCheck, "Vérifier les backlinks cassés d'un domaine"},
	{cmdSchedule, "Programmer un rapport récurrent"},
	{cmdList, "Afficher les rapports programmés"},
	{cmdUnschedule, "Supprimer un rapport programmé"},
	{cmdStatus, "État du planificateur"},
	{cmdHelp, "Aide"},
}

// Menu lists the commands for platform menus (Telegram setMyCommands).
func Menu() []MenuEntry {
	return append([]MenuEntry(nil), menu...)
}

func helpText() string {
	var b strings.Builder
	b.WriteString("*Aide AhrefsBot*\n\n*Commandes disponibles:*\n")
	b.WriteString("• `/ahrefs-check domaine` - Vérifier les backlinks cassés pour un domaine\n")
	b.WriteString("• `/ahrefs-schedule domaine \"fréquence\" #canal` - Programmer un rapport récurrent\n")
	b.WriteString("• `/ahrefs-list` - Afficher tous les rapports programmés\n")
	b.WriteString("• `/ahrefs-unschedule id` - Supprimer un rapport programmé\n")
	b.WriteString("• `/ahrefs-status` - État des rapports programmés\n")
	b.WriteString("\n*Formats de fréquence supportés:*\n")
	b.WriteString("• `daily 9h` - Tous les jours à 9h00\n")
	b.WriteString("• `daily 14h30` - Tous les jours à 14h30\n")
	b.WriteString("• `weekly 9h lundi` - Tous les lundis à 9h00\n")
	b.WriteString("• `monthly 9h 1` - Le 1er jour de chaque mois à 9h00\n")
	b.WriteString("• `0 9 * * 1` - Expression cron à 5 champs\n")
	b.WriteString("\nVous pouvez aussi me mentionner: `@AhrefsBot check domaine.com` ou `@AhrefsBot help`.")
	return b.String()
}
