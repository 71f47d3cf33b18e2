package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// columnGap separates table columns.
const columnGap = 2

var (
	headerStyle = accentStyle.Bold(true)
	cellStyle   = lipgloss.NewStyle()
	indentStyle = lipgloss.NewStyle().MarginLeft(2)
)

// Table renders rows as borderless aligned columns with a trailing
// newline. headers may be nil. Cells may already carry styling.
func Table(headers []string, rows [][]string) string {
	columns := len(headers)
	for _, row := range rows {
		columns = max(columns, len(row))
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(false).
		BorderRow(false).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := cellStyle
			if row == table.HeaderRow {
				style = headerStyle
			}
			if col < columns-1 {
				style = style.PaddingRight(columnGap)
			}
			return style
		})

	if len(headers) > 0 {
		t.Headers(headers...)
	}
	t.Rows(rows...)

	return t.String() + "\n"
}
