package util

import (
	"sort"
	"strings"
)

// LineIndex maps byte offsets to 1-based line and column numbers.
type LineIndex struct {
	starts []int
	size   int
}

func NewLineIndex(text []byte) *LineIndex {
	idx := &LineIndex{starts: []int{0}, size: len(text)}
	for i, c := range text {
		if c == '\n' {
			idx.starts = append(idx.starts, i+1)
		}
	}
	return idx
}

// Position returns the line and column of offset. Columns count bytes.
func (x *LineIndex) Position(offset int) (line, col int) {
	if offset < 0 {
		offset = 0
	}
	if offset > x.size {
		offset = x.size
	}
	i := sort.Search(len(x.starts), func(i int) bool { return x.starts[i] > offset }) - 1
	return i + 1, offset - x.starts[i] + 1
}

// Lines returns the number of lines in the indexed text.
func (x *LineIndex) Lines() int { return len(x.starts) }

// LineBounds returns the byte range of a 1-based line, without its newline.
func (x *LineIndex) LineBounds(line int) (start, end int) {
	if line < 1 || line > len(x.starts) {
		return 0, 0
	}
	start = x.starts[line-1]
	end = x.size
	if line < len(x.starts) {
		end = x.starts[line] - 1
	}
	return start, end
}

// ExtractSnippet returns the lines from start to end (1-based, inclusive),
// capped at maxLines, with common indentation removed.
func ExtractSnippet(content string, start, end, maxLines int) string {
	if maxLines <= 0 {
		maxLines = 8
	}
	lines := strings.Split(content, "\n")
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	if end-start+1 > maxLines {
		end = start + maxLines - 1
	}
	return dedent(lines[start-1 : end])
}

func dedent(lines []string) string {
	indent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		l = strings.TrimRight(l, " \t\r")
		if indent > 0 && len(l) >= indent {
			l = l[indent:]
		}
		out[i] = l
	}
	return strings.Join(out, "\n")
}
