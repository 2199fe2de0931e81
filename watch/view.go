package watch

import (
	"fmt"
	"strings"
)

// View implements tea.Model interface
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("🎬 Clipsmith Pipeline Monitor"))
	b.WriteString("\n\n")

	if !m.Connected {
		b.WriteString(ErrorStyle.Render("❌ Not connected to API"))
		if m.Err != nil {
			b.WriteString("\n" + InfoStyle.Render(m.Err.Error()))
		}
		b.WriteString("\n\n")
		b.WriteString(InfoStyle.Render("Press 'r' to retry, 'q' to quit"))
		b.WriteString("\n")
		return b.String()
	}

	if len(m.Active) == 0 {
		b.WriteString(StatusStyle.Render("✅ No jobs in flight"))
		b.WriteString("\n\n")
	} else {
		b.WriteString(StatusStyle.Render(fmt.Sprintf("⏳ %d job(s) in flight:", len(m.Active))))
		b.WriteString("\n")
		for _, v := range m.Active {
			line := fmt.Sprintf("   #%d  %-12s %s", v.ID, v.Status, v.ProcessingStatus)
			b.WriteString(InfoStyle.Render(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(m.Errors) > 0 {
		var box strings.Builder
		box.WriteString(ErrorStyle.Render(fmt.Sprintf("Failed jobs: %d", len(m.Errors))))
		box.WriteString("\n")
		for _, e := range m.Errors {
			msg := e.ErrorMessage
			if len(msg) > 80 {
				msg = msg[:80] + "..."
			}
			box.WriteString(fmt.Sprintf("#%d [%s] %s\n", e.VideoID, e.FailedStep, msg))
		}
		b.WriteString(BoxStyle.Render(box.String()))
		b.WriteString("\n\n")
	}

	if !m.LastPoll.IsZero() {
		b.WriteString(InfoStyle.Render("Last poll: " + m.LastPoll.Format("15:04:05")))
		b.WriteString("\n")
	}
	b.WriteString(InfoStyle.Render("Press 'r' to refresh, 'q' to quit"))
	b.WriteString("\n")

	return b.String()
}
