package slack

import (
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	kit "seobot/internal/transport"
)

const sectionLimit = 3000

func messageOptions(text string, opt *kit.SendOptions) []slack.MsgOption {
	out := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(Blocks(text, opt.Buttons)...),
	}
	if opt.DisablePreview {
		out = append(out, slack.MsgOptionDisableLinkUnfurl(), slack.MsgOptionDisableMediaUnfurl())
	}
	return out
}

// Blocks renders text as mrkdwn sections followed by one actions block.
// Action ids get a "#<n>" suffix so several buttons may share an action.
func Blocks(text string, buttons []kit.Button) []slack.Block {
	var blocks []slack.Block
	for _, part := range splitSections(text, sectionLimit) {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, part, false, false), nil, nil))
	}
	if len(buttons) == 0 {
		return blocks
	}
	elems := make([]slack.BlockElement, 0, len(buttons))
	for i, b := range buttons {
		btn := slack.NewButtonBlockElement(
			b.Action+"#"+strconv.Itoa(i),
			b.Value,
			slack.NewTextBlockObject(slack.PlainTextType, b.Label, true, false))
		switch b.Style {
		case kit.StylePrimary:
			btn.Style = slack.StylePrimary
		case kit.StyleDanger:
			btn.Style = slack.StyleDanger
		}
		elems = append(elems, btn)
	}
	// Slack allows at most 25 elements per actions block.
	for len(elems) > 0 {
		n := min(len(elems), 25)
		blocks = append(blocks, slack.NewActionBlock("", elems[:n]...))
		elems = elems[n:]
	}
	return blocks
}

func actionName(id string) string {
	if i := strings.LastIndexByte(id, '#'); i >= 0 {
		return id[:i]
	}
	return id
}

func splitSections(s string, limit int) []string {
	if s == "" {
		return nil
	}
	var out []string
	for len(s) > limit {
		cut := strings.LastIndexByte(s[:limit], '\n')
		if cut <= 0 {
			cut = limit
			// Do not cut inside a UTF-8 sequence.
			for cut > 0 && s[cut]&0xC0 == 0x80 {
				cut--
			}
		}
		out = append(out, s[:cut])
		s = strings.TrimLeft(s[cut:], "\n")
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
