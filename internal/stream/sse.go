package stream

import (
	"strings"
)

// record is one parsed SSE record: an event name plus the concatenation of
// its data lines.
type record struct {
	event string
	data  string
}

// decoder accumulates raw stream bytes and slices off complete records. A
// record ends at the first blank line; CRLF line endings are normalised
// before scanning.
type decoder struct {
	buf strings.Builder
}

// feed appends a chunk and returns every complete record it closed.
func (d *decoder) feed(chunk []byte) []record {
	d.buf.Write(chunk)

	text := strings.ReplaceAll(d.buf.String(), "\r\n", "\n")
	var records []record

	for {
		idx := strings.Index(text, "\n\n")
		if idx < 0 {
			break
		}
		if rec, ok := parseRecord(text[:idx]); ok {
			records = append(records, rec)
		}
		text = text[idx+2:]
	}

	d.buf.Reset()
	d.buf.WriteString(text)
	return records
}

// flush parses any trailing partial record once, best-effort. Called on
// stream end.
func (d *decoder) flush() (record, bool) {
	text := strings.ReplaceAll(d.buf.String(), "\r\n", "\n")
	d.buf.Reset()
	return parseRecord(text)
}

// parseRecord splits one record into its event name and joined data payload.
// Records without an event name are dropped.
func parseRecord(raw string) (record, bool) {
	var rec record
	var dataLines []string

	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			rec.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// Comment lines and unknown fields are ignored.
	}

	if rec.event == "" {
		return record{}, false
	}
	rec.data = strings.Join(dataLines, "\n")
	return rec, true
}
