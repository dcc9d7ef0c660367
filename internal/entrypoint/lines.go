package entrypoint

import "strings"

// ActivationLine is the statement that loads the hook module
func ActivationLine(module string) string {
	return "import " + module
}

// HasActivation reports whether any line mentions the hook module
func HasActivation(lines []string, module string) bool {
	for _, l := range lines {
		if strings.Contains(l, module) {
			return true
		}
	}
	return false
}

// InsertActivation places the activation statement right after the leading
// comment block, so shebang and encoding lines stay first.
func InsertActivation(lines []string, module string) []string {
	at := 0
	for at < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[at]), "#") {
		at++
	}

	stmt := ActivationLine(module)
	// Lines keep their \r when the file uses CRLF endings; match them.
	if len(lines) > 0 && strings.HasSuffix(lines[0], "\r") {
		stmt += "\r"
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:at]...)
	out = append(out, stmt)
	out = append(out, lines[at:]...)
	return out
}

// RemoveActivation drops every line containing the activation statement
func RemoveActivation(lines []string, module string) []string {
	stmt := ActivationLine(module)
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if !strings.Contains(l, stmt) {
			out = append(out, l)
		}
	}
	return out
}

// Transform moves lines to the desired state. The second result is false
// when the lines were already there.
func Transform(lines []string, module string, desired bool) ([]string, bool) {
	present := HasActivation(lines, module)
	switch {
	case desired && !present:
		return InsertActivation(lines, module), true
	case !desired && present:
		out := RemoveActivation(lines, module)
		return out, len(out) != len(lines)
	default:
		return lines, false
	}
}

// splitLines breaks file content into lines without terminators
func splitLines(data []byte) ([]string, bool) {
	if len(data) == 0 {
		return nil, true
	}
	s := string(data)
	trailing := strings.HasSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n"), trailing
}

func joinLines(lines []string, trailingNewline bool) []byte {
	s := strings.Join(lines, "\n")
	if trailingNewline && len(lines) > 0 {
		s += "\n"
	}
	return []byte(s)
}
