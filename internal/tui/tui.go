// Package tui is the interactive findings browser behind `radar scan --tui`.
package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Auditware/radar/internal/model"
)

var severityColors = map[model.Severity]lipgloss.Color{
	model.SeverityCritical: lipgloss.Color("9"),
	model.SeverityHigh:     lipgloss.Color("208"),
	model.SeverityMedium:   lipgloss.Color("11"),
	model.SeverityLow:      lipgloss.Color("14"),
	model.SeverityInfo:     lipgloss.Color("8"),
}

func severityStyle(s model.Severity) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(severityColors[s]).Bold(true).Width(9)
}

type findingItem struct {
	f model.Finding
}

func (i findingItem) FilterValue() string {
	return i.f.RuleID + " " + i.f.File + " " + i.f.Handler
}

type findingDelegate struct{}

func (d findingDelegate) Height() int                             { return 1 }
func (d findingDelegate) Spacing() int                            { return 0 }
func (d findingDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d findingDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(findingItem)
	if !ok {
		return
	}
	pointer := "  "
	text := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	if index == m.Index() {
		pointer = "> "
		text = text.Foreground(lipgloss.Color("6")).Bold(true)
	}
	line := fmt.Sprintf("%s %s:%d  %s", it.f.RuleID, it.f.File, it.f.StartLine, it.f.Handler)
	_, _ = fmt.Fprint(w, pointer+severityStyle(it.f.Severity).Render(strings.ToUpper(string(it.f.Severity)))+text.Render(line))
}

type browser struct {
	res    *model.ScanResult
	list   list.Model
	detail bool
	width  int
	height int
}

func newBrowser(res *model.ScanResult) browser {
	items := make([]list.Item, 0, len(res.Findings))
	for _, f := range res.Findings {
		items = append(items, findingItem{f: f})
	}
	l := list.New(items, findingDelegate{}, 80, 20)
	l.SetShowPagination(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.FilterInput.Placeholder = "Filter by rule, file or handler…"
	return browser{res: res, list: l, width: 80, height: 24}
}

func (b browser) Init() tea.Cmd { return nil }

func (b browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width, b.height = msg.Width, msg.Height
		b.list.SetSize(msg.Width, max(msg.Height-6, 5))
		return b, nil
	case tea.KeyMsg:
		if b.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return b, tea.Quit
		case "enter", "right", "l":
			if _, ok := b.list.SelectedItem().(findingItem); ok {
				b.detail = true
			}
			return b, nil
		case "esc", "left", "h", "backspace":
			if b.detail {
				b.detail = false
				return b, nil
			}
		}
		if b.detail {
			return b, nil
		}
	}
	var cmd tea.Cmd
	b.list, cmd = b.list.Update(msg)
	return b, cmd
}

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true).Padding(1, 0, 0, 2)
	summaryText = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Padding(0, 0, 1, 2)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Padding(1, 0, 0, 2)
	codeStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
)

func (b browser) View() string {
	title := titleStyle.Render("Radar findings")
	if len(b.res.Findings) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, summaryText.Render(b.summary()), footerStyle.Render("No findings. q quit"))
	}
	if b.detail {
		if it, ok := b.list.SelectedItem().(findingItem); ok {
			return lipgloss.JoinVertical(lipgloss.Left,
				title,
				lipgloss.NewStyle().Padding(0, 2).Render(detailView(it.f)),
				footerStyle.Render("esc back • q quit"),
			)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		summaryText.Render(b.summary()),
		b.list.View(),
		footerStyle.Render("↑/k up • ↓/j down • enter details • / filter • q quit"),
	)
}

func (b browser) summary() string {
	counts := map[model.Severity]int{}
	for _, f := range b.res.Findings {
		counts[f.Severity]++
	}
	var parts []string
	for _, s := range []model.Severity{model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow, model.SeverityInfo} {
		if counts[s] > 0 {
			parts = append(parts, severityStyle(s).UnsetWidth().Render(fmt.Sprintf("%d %s", counts[s], s)))
		}
	}
	line := fmt.Sprintf("%d finding(s) in %d file(s), status %s", len(b.res.Findings), b.res.Files, b.res.Status)
	if len(parts) > 0 {
		line += "   " + strings.Join(parts, "  ")
	}
	return line
}

func detailView(f model.Finding) string {
	var s strings.Builder
	fmt.Fprintf(&s, "%s %s\n\n", severityStyle(f.Severity).UnsetWidth().Render(strings.ToUpper(string(f.Severity))), labelStyle.Render(f.RuleID))
	fmt.Fprintf(&s, "%s %s:%d:%d\n", labelStyle.Render("Location:"), f.File, f.StartLine, f.StartColumn)
	if f.Handler != "" {
		fmt.Fprintf(&s, "%s %s\n", labelStyle.Render("Handler:"), f.Handler)
	}
	fmt.Fprintf(&s, "%s %.2f\n\n", labelStyle.Render("Confidence:"), f.Confidence)
	fmt.Fprintf(&s, "%s\n", f.Message)
	if f.Rationale != "" {
		fmt.Fprintf(&s, "%s\n", f.Rationale)
	}
	if f.Corroborated {
		fmt.Fprintf(&s, "%s %s\n", labelStyle.Render("Corroborated by:"), strings.Join(f.RelatedRules, ", "))
	}
	if f.Remediation != "" {
		fmt.Fprintf(&s, "\n%s %s\n", labelStyle.Render("Fix:"), f.Remediation)
	}
	if f.Evidence != "" {
		s.WriteString("\n" + codeStyle.Render(f.Evidence))
	}
	return s.String()
}

// Run shows the findings of res until the user quits.
func Run(res *model.ScanResult) error {
	_, err := tea.NewProgram(newBrowser(res), tea.WithAltScreen()).Run()
	return err
}
