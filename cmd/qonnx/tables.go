package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/timkpaine/qonnx/onnx"
	"github.com/timkpaine/qonnx/transform"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

// newPlainTable returns a bordered table with zebra rows. alignments applies
// per column; the last one repeats for the remaining columns.
func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

func summaryTable(path string, before, after *onnx.ModelProto, reports []transform.Report) *lgtable.Table {
	var weightBytes int
	for _, r := range reports {
		weightBytes += r.WeightBytes
	}
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("model", path)
	table.Row("rewrites", humanize.Comma(int64(len(reports))))
	table.Row("nodes", fmt.Sprintf("%s → %s",
		humanize.Comma(int64(len(before.Graph.Nodes))), humanize.Comma(int64(len(after.Graph.Nodes)))))
	table.Row("new kernels", humanize.Bytes(uint64(weightBytes)))
	return table
}

func rewritesTable(reports []transform.Report) *lgtable.Table {
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Conv", "Resize", "Upscale", "Kernel", "Stride", "Pads", "Group", "Datatype", "Weights")
	for _, r := range reports {
		datatype := r.Datatype
		if r.Quantized {
			datatype += " (Quant)"
		}
		table.Row(
			r.Conv,
			r.Resize,
			strconv.Itoa(r.Upscale),
			fmt.Sprintf("%dx%d → %dx%d", r.Kernel, r.Kernel, r.NewKernel, r.NewKernel),
			strconv.Itoa(r.Stride),
			strconv.Itoa(r.Pad),
			strconv.Itoa(r.Group),
			datatype,
			humanize.Bytes(uint64(r.WeightBytes)),
		)
	}
	return table
}
