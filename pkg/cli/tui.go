package cli

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme is the terminal color scheme.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is bright green on the terminal default.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles are derived from a Theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Bar    lipgloss.Style
	Help   lipgloss.Style
	Border lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:  lipgloss.NewStyle().Foreground(t.Dim),
		Bar:    lipgloss.NewStyle().Foreground(t.Primary),
		Help:   lipgloss.NewStyle().Foreground(t.Dim).Italic(true),
		Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Primary).Padding(0, 1),
	}
}

// UsageChart draws one horizontal bar per code, scaled so the most used
// code spans Width cells.
type UsageChart struct {
	Styles Styles
	Title  string
	Usage  []float64

	// Width of the longest bar. Zero means 40.
	Width int

	// Footer is printed below the bars, e.g. the perplexity.
	Footer string
}

// Render returns the boxed chart.
func (c UsageChart) Render() string {
	width := c.Width
	if width <= 0 {
		width = 40
	}
	var peak float64
	for _, u := range c.Usage {
		peak = max(peak, u)
	}
	digits := len(fmt.Sprint(max(len(c.Usage)-1, 0)))

	rows := []string{c.Styles.Title.Render(c.Title), ""}
	for i, u := range c.Usage {
		n := 0
		if peak > 0 {
			n = int(math.Round(u / peak * float64(width)))
		}
		rows = append(rows, fmt.Sprintf("%s %s%s %s",
			c.Styles.Label.Render(fmt.Sprintf("code %*d", digits, i)),
			c.Styles.Bar.Render(strings.Repeat("█", n)),
			strings.Repeat(" ", width-n),
			c.Styles.Label.Render(fmt.Sprintf("%5.1f%%", 100*u)),
		))
	}
	if c.Footer != "" {
		rows = append(rows, "", c.Styles.Help.Render(c.Footer))
	}
	return c.Styles.Border.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
