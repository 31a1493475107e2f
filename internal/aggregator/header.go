package aggregator

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const utf8BOM = "\ufeff"

// normalizeHeader strips a UTF-8 byte order mark from the first column.
func normalizeHeader(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	return header
}

func headersEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// describeHeaderDiff lists the columns added to and removed from ref, one
// column per diff line, e.g. "+License, -Locations".
func describeHeaderDiff(ref, got []string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(strings.Join(ref, "\n")+"\n", strings.Join(got, "\n")+"\n")
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var parts []string
	for _, d := range diffs {
		var sign string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			sign = "+"
		case diffmatchpatch.DiffDelete:
			sign = "-"
		default:
			continue
		}
		for _, col := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			parts = append(parts, sign+col)
		}
	}
	if len(parts) == 0 {
		return "column order differs"
	}
	return strings.Join(parts, ", ")
}
