package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"

	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).MarginTop(1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	headerStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
)

// matrixTable renders a 2D tensor as a bordered table titled title.
func matrixTable(title string, t *tensor.Tensor) string {
	if t.NumDims() != 2 {
		return titleStyle.Render(title) + "\n" + t.String()
	}
	rows, cols := t.Dim(0), t.Dim(1)

	headers := make([]string, cols+1)
	for j := 0; j < cols; j++ {
		headers[j+1] = strconv.Itoa(j)
	}
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow || col == 0 {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
	for i := 0; i < rows; i++ {
		row := make([]string, cols+1)
		row[0] = strconv.Itoa(i)
		for j, v := range t.Row(i) {
			row[j+1] = formatValue(v)
		}
		table.Row(row...)
	}
	return titleStyle.Render(title) + "\n" + table.String()
}

// summaryTable renders name/value pairs.
func summaryTable(title string, pairs [][2]string) string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("item", "value")
	for _, p := range pairs {
		table.Row(p[0], p[1])
	}
	return titleStyle.Render(title) + "\n" + table.String()
}

func formatValue(v float32) string {
	switch {
	case math.IsInf(float64(v), -1):
		return "-inf"
	case math.IsInf(float64(v), 1):
		return "+inf"
	default:
		return fmt.Sprintf("%.4f", v)
	}
}
