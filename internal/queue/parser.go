package queue

import (
	"bytes"
	"regexp"
	"strings"
)

// postPattern matches the shortest run of text between two double quotes,
// newlines included.
var postPattern = regexp.MustCompile(`(?s)"(.*?)"`)

// ParsePosts extracts every quoted block from data in document order,
// trimmed, dropping blocks that are empty after trimming.
func ParsePosts(data []byte) []string {
	matches := postPattern.FindAllSubmatch(data, -1)
	posts := make([]string, 0, len(matches))
	for _, m := range matches {
		text := strings.TrimSpace(string(m[1]))
		if text == "" {
			continue
		}
		posts = append(posts, text)
	}
	return posts
}

// FormatPosts is the inverse of ParsePosts: each post wrapped in quotes,
// followed by a blank line.
func FormatPosts(posts []string) []byte {
	var buf bytes.Buffer
	for _, p := range posts {
		buf.WriteByte('"')
		buf.WriteString(strings.TrimSpace(p))
		buf.WriteString("\"\n\n")
	}
	return buf.Bytes()
}

// ParseLines returns the non-blank lines of data, trimmed.
func ParseLines(data []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// NormalizeHandle strips surrounding whitespace and a leading "@".
func NormalizeHandle(handle string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(handle), "@"))
}
