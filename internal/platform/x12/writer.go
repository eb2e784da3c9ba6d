package x12

import "strings"

// Writer serializes segments and counts every terminator it emits.
type Writer struct {
	delims     Delimiters
	lineBreaks bool
	buf        strings.Builder
	count      int
}

// NewWriter returns a Writer. When lineBreaks is set a newline follows each
// terminator; the newline is cosmetic and is never counted.
func NewWriter(d Delimiters, lineBreaks bool) *Writer {
	return &Writer{delims: d, lineBreaks: lineBreaks}
}

// Write renders segs in order.
func (w *Writer) Write(segs ...Segment) {
	for _, s := range segs {
		w.buf.WriteString(s.Render(w.delims))
		w.buf.WriteByte(w.delims.Segment)
		if w.lineBreaks {
			w.buf.WriteByte('\n')
		}
		w.count++
	}
}

// Count reports the number of segments written so far.
func (w *Writer) Count() int { return w.count }

// String returns the rendered text.
func (w *Writer) String() string { return w.buf.String() }

// CountTerminators counts segment terminators in rendered text. It is the
// external check for a Writer's count; line breaks do not participate.
func CountTerminators(text string, d Delimiters) int {
	return strings.Count(text, string(d.Segment))
}

// Split breaks rendered text into segment strings without terminators,
// ignoring cosmetic line breaks.
func Split(text string, d Delimiters) []string {
	var out []string
	for _, raw := range strings.Split(text, string(d.Segment)) {
		raw = strings.Trim(raw, "\r\n")
		if raw != "" {
			out = append(out, raw)
		}
	}
	return out
}
