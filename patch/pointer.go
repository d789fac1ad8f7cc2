package patch

import "strings"

var (
	escaper   = strings.NewReplacer("~", "~0", "/", "~1")
	unescaper = strings.NewReplacer("~1", "/", "~0", "~")
)

// Pointer joins raw segments into a JSON pointer, escaping each one.
func Pointer(segments ...string) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(escaper.Replace(seg))
	}
	return b.String()
}

// Segments splits a pointer back into unescaped segments.
func Segments(pointer string) []string {
	if pointer == "" || pointer == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i, part := range parts {
		parts[i] = unescaper.Replace(part)
	}
	return parts
}
