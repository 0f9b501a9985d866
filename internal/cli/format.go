package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"chatsync/internal/model"
)

func chatTitle(c model.Chat, self int64) string {
	if c.Title != nil && *c.Title != "" {
		return *c.Title
	}
	var names []string
	for _, p := range c.Participants {
		if p.ID != self {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		return "(just you)"
	}
	return strings.Join(names, ", ")
}

func printChats(w io.Writer, chats []model.Chat, self int64, now time.Time) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No chats yet")
		return
	}
	for _, c := range chats {
		fmt.Fprintf(w, "%6d  %-30s  %d members  created %s\n",
			c.ID, chatTitle(c, self), len(c.Participants), humanize.RelTime(c.CreatedAt, now, "ago", "from now"))
	}
}

func printChat(w io.Writer, c model.Chat, self int64) {
	fmt.Fprintf(w, "Chat %d: %s\n", c.ID, chatTitle(c, self))
	for _, p := range c.Participants {
		fmt.Fprintf(w, "  %-20s %s\n", p.Name, p.Email)
	}
}

// messageLine renders one message. Messages held for moderation are
// flagged so the sender knows others may not see them yet.
func messageLine(m model.Message, self int64, now time.Time) string {
	who := m.Sender.Name
	if who == "" {
		who = "user " + strconv.FormatInt(m.SenderID, 10)
	}
	if m.SenderID == self {
		who = "you"
	}
	line := fmt.Sprintf("[%d] %s (%s): %s", m.ID, who, humanize.RelTime(m.CreatedAt, now, "ago", "from now"), m.Content)
	switch m.ModerationStatus {
	case model.ModerationPending:
		line += "  [pending review]"
	case model.ModerationRejected:
		line += "  [rejected]"
	}
	return line
}

func pendingLine(p model.PendingSend) string {
	return "[sending] you: " + p.Content
}

func printMessages(w io.Writer, msgs []model.Message, pending []model.PendingSend, self int64, now time.Time) {
	if len(msgs) == 0 && len(pending) == 0 {
		fmt.Fprintln(w, "No messages yet")
		return
	}
	for _, m := range msgs {
		fmt.Fprintln(w, messageLine(m, self, now))
	}
	for _, p := range pending {
		fmt.Fprintln(w, pendingLine(p))
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int64
	for _, part := range strings.Split(s, ",") {
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
