// Package envfile parses and renders dotenv-style files. Parsing preserves
// every line it does not understand (comments, blanks, malformed text) so a
// later render can carry them through untouched; values are kept raw, quotes
// included, and are never unescaped.
package envfile

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rendis/envsync/pkg/schema"
)

// Section headers injected into rendered files. Stripped again on render so
// repeated runs do not accumulate them.
const (
	ManagedHeader   = "# Variables managed by envsync"
	UnmanagedHeader = "# Variables not managed by envsync (preserved)"
)

// headerPrefixes are matched against trimmed leading lines when stripping
// previously injected headers. The unmanaged prefix omits the "(preserved)"
// suffix so wording variants are stripped too.
var headerPrefixes = []string{
	ManagedHeader,
	"# Variables not managed by envsync",
}

// File is the parsed state of an env file: raw leading lines in original
// order plus the variable assignments. Duplicate keys keep the last
// assignment.
type File struct {
	Leading []string
	Vars    map[string]string
}

// Parse reads dotenv-style content from r. Lines that are blank, comments,
// or contain no "=" land in Leading; assignments are split on the first "="
// with surrounding whitespace trimmed. An assignment with an empty key is
// dropped.
func Parse(r io.Reader) (*File, error) {
	f := &File{Vars: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "#") {
			f.Leading = append(f.Leading, line)
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			key = strings.TrimSpace(key)
			if key != "" {
				f.Vars[key] = strings.TrimSpace(value)
			}
			continue
		}
		f.Leading = append(f.Leading, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// Load parses the file at path. A missing file yields an empty state, not an
// error.
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{Vars: make(map[string]string)}, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeIO, "open %s", path).WithCause(err)
	}
	defer fh.Close()

	f, err := Parse(fh)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeIO, "read %s", path).WithCause(err)
	}
	return f, nil
}

// SortedKeys returns the map's keys in lexicographic order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Render builds the full replacement content: kept leading lines (previous
// section headers removed, leading/trailing blank runs trimmed), then
// managed variables under ManagedHeader, then unmanaged variables under
// UnmanagedHeader, each section in lexicographic key order. Values are
// written as-is; callers decide on quoting.
func Render(leading []string, managed, unmanaged map[string]string) string {
	kept := stripHeaders(leading)

	lines := make([]string, 0, len(kept)+len(managed)+len(unmanaged)+4)
	lines = append(lines, kept...)

	if len(managed) > 0 {
		// Separator only when the file keeps prior comments, so a fresh file
		// does not start with a blank line.
		if len(kept) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, ManagedHeader)
		for _, k := range SortedKeys(managed) {
			lines = append(lines, k+"="+managed[k])
		}
	}

	if len(unmanaged) > 0 {
		lines = append(lines, "")
		lines = append(lines, UnmanagedHeader)
		for _, k := range SortedKeys(unmanaged) {
			lines = append(lines, k+"="+unmanaged[k])
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

func stripHeaders(leading []string) []string {
	start := 0
	for start < len(leading) && strings.TrimSpace(leading[start]) == "" {
		start++
	}
	var kept []string
	for _, line := range leading[start:] {
		if isSectionHeader(line) {
			continue
		}
		kept = append(kept, line)
	}
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	return kept
}

func isSectionHeader(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, p := range headerPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
