package decode

import (
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// lineTolerance is the vertical distance (in points) under which glyphs share a line.
const lineTolerance = 2.0

// alignTolerance pads cell spans (in points) when matching columns across rows.
const alignTolerance = 6.0

// groupLines sorts glyphs top to bottom, left to right and splits them into lines.
func groupLines(glyphs []pdf.Text) [][]pdf.Text {
	if len(glyphs) == 0 {
		return nil
	}
	sort.SliceStable(glyphs, func(a, b int) bool {
		if glyphs[a].Y != glyphs[b].Y {
			return glyphs[a].Y > glyphs[b].Y
		}
		return glyphs[a].X < glyphs[b].X
	})
	var lines [][]pdf.Text
	start := 0
	lineY := glyphs[0].Y
	for i, g := range glyphs {
		if i > 0 && math.Abs(g.Y-lineY) >= lineTolerance {
			lines = append(lines, glyphs[start:i])
			start = i
			lineY = g.Y
		}
	}
	return append(lines, glyphs[start:])
}

func joinLines(lines [][]pdf.Text) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, g := range line {
			b.WriteString(g.S)
		}
	}
	return b.String()
}

type cell struct {
	x0, x1 float64
	text   string
}

// lineCells splits one line where the horizontal gap between glyphs is at
// least one em. Blank cells are dropped.
func lineCells(line []pdf.Text) []cell {
	var cells []cell
	var b strings.Builder
	cur := cell{x0: line[0].X, x1: line[0].X + line[0].W}
	flush := func() {
		if t := strings.Join(strings.Fields(b.String()), " "); t != "" {
			cur.text = t
			cells = append(cells, cur)
		}
		b.Reset()
	}
	for i, g := range line {
		if i > 0 {
			em := math.Max(g.FontSize, 1)
			if g.X-cur.x1 >= em && strings.TrimSpace(g.S) != "" {
				flush()
				cur = cell{x0: g.X, x1: g.X}
			}
		}
		b.WriteString(g.S)
		if end := g.X + g.W; end > cur.x1 {
			cur.x1 = end
		}
	}
	flush()
	return cells
}

// aligned reports whether two rows have the same column count and each
// column's spans overlap.
func aligned(a, b []cell) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].x0-alignTolerance > b[i].x1+alignTolerance || b[i].x0-alignTolerance > a[i].x1+alignTolerance {
			return false
		}
	}
	return true
}

// detectTables finds runs of at least two consecutive lines that split into
// the same two or more aligned cells.
func detectTables(lines [][]pdf.Text) []entity.Table {
	var tables []entity.Table
	var run [][]cell
	closeRun := func() {
		if len(run) >= 2 {
			t := entity.Table{Columns: len(run[0]), Rows: make([][]string, len(run))}
			for i, row := range run {
				t.Rows[i] = make([]string, len(row))
				for j, c := range row {
					t.Rows[i][j] = c.text
				}
			}
			tables = append(tables, t)
		}
		run = nil
	}
	for _, line := range lines {
		cells := lineCells(line)
		if len(cells) < 2 {
			closeRun()
			continue
		}
		if len(run) > 0 && !aligned(run[len(run)-1], cells) {
			closeRun()
		}
		run = append(run, cells)
	}
	closeRun()
	return tables
}
