package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AlibekovAA/NATS/transfer"
	"github.com/AlibekovAA/NATS/types"
)

// maxProtocols caps the protocol breakdown in the summary box.
const maxProtocols = 5

// Summary is the data shown when a session ends.
type Summary struct {
	SessionID   string
	Phase       string
	Encoding    string
	TotalChunks int
	Bytes       int
	Packets     int
	Duration    time.Duration
	Error       string
	Protocols   map[string]int
}

// NewSummary builds a Summary from a finished session.
func NewSummary(s *transfer.Session, result *types.AnalysisResult) Summary {
	sum := Summary{
		SessionID:   s.ID,
		Phase:       string(s.Phase()),
		Encoding:    string(s.Encoding),
		TotalChunks: s.TotalChunks,
		Bytes:       s.Bytes,
		Packets:     result.PacketCount(),
		Duration:    s.Duration(),
	}
	if err := s.Err(); err != nil {
		sum.Error = err.Error()
	}
	if result != nil && len(result.Packets) > 0 {
		sum.Protocols = make(map[string]int)
		for _, p := range result.Packets {
			sum.Protocols[p.Protocol]++
		}
	}
	return sum
}

// RenderSummary renders s as a bordered box followed by stat boxes.
func RenderSummary(s Summary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Session " + s.SessionID))
	b.WriteString("\n")

	rows := [][2]string{
		{"Phase", s.Phase},
		{"Encoding", s.Encoding},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	}
	if s.Error != "" {
		rows = append(rows, [2]string{"Error", s.Error})
	}
	for _, row := range rows {
		value := valueStyle.Render(row[1])
		switch row[0] {
		case "Phase":
			value = phaseStyle(row[1]).Render(row[1])
		case "Error":
			value = failStyle.Render(row[1])
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(row[0]+":"), value)
	}

	if len(s.Protocols) > 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Protocols:"))
		b.WriteString("\n")
		for _, p := range topProtocols(s.Protocols, maxProtocols) {
			fmt.Fprintf(&b, "  %s %s\n", valueStyle.Render(p), labelStyle.Render(fmt.Sprintf("%d", s.Protocols[p])))
		}
	}

	boxes := lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Chunks", fmt.Sprintf("%d", s.TotalChunks), highlightColor),
		renderStatBox("Bytes", formatBytes(s.Bytes), highlightColor),
		renderStatBox("Packets", fmt.Sprintf("%d", s.Packets), successColor),
	)
	return lipgloss.JoinVertical(lipgloss.Left, boxStyle.Render(strings.TrimRight(b.String(), "\n")), boxes)
}

func renderStatBox(label, value string, color lipgloss.Color) string {
	v := statValueStyle.Foreground(color).Render(value)
	l := statLabelStyle.Render(label)
	return statBoxStyle.BorderForeground(color).Render(lipgloss.JoinVertical(lipgloss.Center, v, l))
}

// topProtocols returns up to n protocol names by count, ties by name.
func topProtocols(counts map[string]int, n int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := int64(n) / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
