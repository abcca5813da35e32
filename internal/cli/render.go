package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/raphaelgruber/cosmos-go/internal/models"
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Title   lipgloss.Color
	Seed    lipgloss.Color
	Warning lipgloss.Color
	Hint    lipgloss.Color
	Score   lipgloss.Color
}

var defaultTheme = Theme{
	Title:   lipgloss.Color("#5FAFD7"), // light blue
	Seed:    lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
	Score:   lipgloss.Color("#AF87FF"), // violet
}

func (t Theme) titleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Title).Bold(true)
}

func (t Theme) seedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Seed).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) scoreStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Score)
}

// renderer writes styled output, falling back to plain text off a terminal.
type renderer struct {
	w     io.Writer
	theme Theme
	plain bool
	width int
}

func newRenderer(w io.Writer) *renderer {
	r := &renderer{w: w, theme: defaultTheme, plain: true, width: 100}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.plain = false
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 40 {
			r.width = width
		}
	}
	return r
}

func (r *renderer) style(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}

func (r *renderer) truncate(s string, reserve int) string {
	limit := r.width - reserve
	if limit < 10 {
		limit = 10
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// lookup prints the seed, ranked nodes, edges and any warnings.
func (r *renderer) lookup(resp *models.LookupResponse) {
	t := r.theme
	seed := resp.FoundEntity
	fmt.Fprintf(r.w, "%s %s [%s]\n", r.style(t.seedStyle(), "●"), r.style(t.titleStyle(), seed.Title), seed.Type)
	if seed.Content != "" {
		fmt.Fprintf(r.w, "  %s\n", r.truncate(seed.Content, 2))
	}
	fmt.Fprintln(r.w)

	nodes := make([]models.LookupNode, 0, len(resp.Graph.Nodes))
	for _, n := range resp.Graph.Nodes {
		if !n.IsSeed {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		fmt.Fprintln(r.w, "No related entities.")
	} else {
		fmt.Fprintf(r.w, "%d related entities:\n", len(nodes))
		for i, n := range nodes {
			fmt.Fprintf(r.w, "%2d. %s %s [%s]%s\n",
				i+1,
				r.style(t.scoreStyle(), fmt.Sprintf("%.3f", n.FinalScore)),
				n.Title, n.Type, origin(n))
			if verbose {
				fmt.Fprintf(r.w, "    %s\n", r.style(t.hintStyle(), fmt.Sprintf("id=%s semantic=%.3f", n.ID, n.SemanticScore)))
			}
		}
	}

	if len(resp.Graph.Edges) > 0 {
		titles := make(map[string]string, len(resp.Graph.Nodes))
		for _, n := range resp.Graph.Nodes {
			titles[n.ID] = n.Title
		}
		fmt.Fprintf(r.w, "\n%d relationships:\n", len(resp.Graph.Edges))
		for _, e := range resp.Graph.Edges {
			fmt.Fprintf(r.w, "  %s -[%s %.2f]-> %s\n", label(titles, e.Source), e.Type, e.Weight, label(titles, e.Target))
		}
	}

	for _, w := range resp.Warnings {
		fmt.Fprintln(r.w, r.style(t.warningStyle(), "warning: "+w))
	}
	if verbose {
		s := resp.Stats
		fmt.Fprintln(r.w, r.style(t.hintStyle(), fmt.Sprintf(
			"\n%dms total (semantic %dms, expansion %dms, hydration %dms), %d semantic, %d connected",
			s.DurationMs, s.SemanticSearchMs, s.ExpansionMs, s.HydrationMs, s.SemanticMatches, s.GraphConnected)))
	}
}

// projection prints node counts by type and the edge list size.
func (r *renderer) projection(userID string, g *models.GraphStructure) {
	t := r.theme
	fmt.Fprintf(r.w, "%s: %d nodes, %d edges\n", r.style(t.titleStyle(), userID), len(g.Nodes), len(g.Edges))

	counts := make(map[string]int)
	for _, n := range g.Nodes {
		typ := n.Type
		if typ == "" {
			typ = "untyped"
		}
		counts[typ]++
	}
	types := make([]string, 0, len(counts))
	for typ := range counts {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		fmt.Fprintf(r.w, "  %-16s %d\n", typ, counts[typ])
	}

	if verbose {
		for _, e := range g.Edges {
			fmt.Fprintln(r.w, r.style(t.hintStyle(), fmt.Sprintf("  %s -[%s]-> %s", e.Source, e.Type, e.Target)))
		}
	}
}

func origin(n models.LookupNode) string {
	switch {
	case n.IsSemanticMatch && n.IsGraphConnected:
		return " similar+linked"
	case n.IsSemanticMatch:
		return " similar"
	case n.IsGraphConnected:
		return " linked"
	}
	return ""
}

func label(titles map[string]string, id string) string {
	if t := titles[id]; t != "" {
		return t
	}
	return id
}
