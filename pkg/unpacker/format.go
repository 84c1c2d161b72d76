package unpacker

import "strings"

var braceReplacer = strings.NewReplacer(
	";", ";\n",
	"{", "\n{\n",
	"}", "\n}\n",
)

// Format puts statements and braces on their own lines and indents them with
// one tab per brace depth. A closing brace is indented at the depth it
// returns to; an opening brace at the depth it opens from.
func Format(code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	expanded := braceReplacer.Replace(code)

	raw := strings.Split(expanded, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == ";" && len(lines) > 0 {
			lines[len(lines)-1] += ";"
			continue
		}
		lines = append(lines, line)
	}

	depth := 0
	var b strings.Builder
	b.Grow(len(expanded) + len(lines)*2)
	for i, line := range lines {
		if strings.Contains(line, "}") && depth > 0 {
			depth--
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("\t", depth))
		b.WriteString(line)
		if strings.Contains(line, "{") {
			depth++
		}
	}
	return b.String()
}
