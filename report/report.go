package report

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/tabwriter"

	"github.com/logrusorgru/aurora/v3"
)

type (
	// Reporter receives status lines and tables from the migrator
	Reporter interface {
		Line(markup string)
		Table() Table
		Output() io.Writer
	}

	Table interface {
		SetHeaderRow(columns []string)
		SetRows(rows [][]string)
		Render(w io.Writer) error
	}
)

var markupRegexp = regexp.MustCompile(`<(info|comment|question|error)>(.*?)</(?:info|comment|question|error)>`)

// Console renders markup lines to a writer, coloring tags when colors are enabled
type Console struct {
	out io.Writer
	au  aurora.Aurora
}

var _ Reporter = (*Console)(nil)

func NewConsole(out io.Writer, colors bool) *Console {
	return &Console{out: out, au: aurora.NewAurora(colors)}
}

func (c *Console) Line(markup string) {
	_, _ = fmt.Fprintln(c.out, c.Render(markup))
}

func (c *Console) Table() Table {
	return &TextTable{}
}

func (c *Console) Output() io.Writer {
	return c.out
}

// Render replaces markup tags with colors
func (c *Console) Render(markup string) string {
	return markupRegexp.ReplaceAllStringFunc(markup, func(m string) string {
		parts := markupRegexp.FindStringSubmatch(m)
		switch parts[1] {
		case "info":
			return c.au.Green(parts[2]).String()
		case "comment":
			return c.au.Yellow(parts[2]).String()
		case "question":
			return c.au.Cyan(parts[2]).String()
		default:
			return c.au.Red(parts[2]).String()
		}
	})
}

// TextTable is a plain text table, multi line cells are spread over several rows
type TextTable struct {
	header []string
	rows   [][]string
}

var _ Table = (*TextTable)(nil)

func (t *TextTable) SetHeaderRow(columns []string) {
	t.header = columns
}

func (t *TextTable) SetRows(rows [][]string) {
	t.rows = rows
}

func (t *TextTable) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)

	if len(t.header) > 0 {
		if err := writeRow(tw, t.header); err != nil {
			return err
		}

		sep := make([]string, len(t.header))
		for i, h := range t.header {
			sep[i] = strings.Repeat("-", max(len(h), 3))
		}

		if err := writeRow(tw, sep); err != nil {
			return err
		}
	}

	for _, row := range t.rows {
		if err := writeRow(tw, row); err != nil {
			return err
		}
	}

	return tw.Flush()
}

func writeRow(w io.Writer, cells []string) error {
	lines := make([][]string, len(cells))
	height := 1
	for i, cell := range cells {
		lines[i] = strings.Split(strings.TrimRight(cell, "\n"), "\n")
		height = max(height, len(lines[i]))
	}

	for l := 0; l < height; l++ {
		parts := make([]string, len(cells))
		for i := range cells {
			if l < len(lines[i]) {
				parts[i] = lines[i][l]
			}
		}

		if _, err := fmt.Fprintln(w, strings.Join(parts, "\t")); err != nil {
			return err
		}
	}

	return nil
}
