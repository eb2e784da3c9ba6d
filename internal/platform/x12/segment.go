// Package x12 renders ASC X12 segments. Segments are built as ordered
// element lists and serialized by a Writer, which keeps the authoritative
// segment count used by transaction-set trailers.
package x12

import (
	"strings"
	"time"
)

// Delimiters holds the separators used when rendering an interchange.
type Delimiters struct {
	Element    byte // '*'
	Component  byte // ':'
	Repetition byte // '^'
	Segment    byte // '~'
}

// DefaultDelimiters are the separators used by 837P submissions.
var DefaultDelimiters = Delimiters{
	Element:    '*',
	Component:  ':',
	Repetition: '^',
	Segment:    '~',
}

func (d Delimiters) reserved(r rune) bool {
	return r == rune(d.Element) || r == rune(d.Component) || r == rune(d.Repetition) || r == rune(d.Segment)
}

// Element is a single data element. An element with more than one part is
// a composite and its parts are joined with the component separator.
type Element []string

// Simple returns a single-valued element.
func Simple(v string) Element { return Element{v} }

// Composite returns a composite element. Trailing empty components are dropped.
func Composite(parts ...string) Element {
	end := len(parts)
	for end > 0 && parts[end-1] == "" {
		end--
	}
	return Element(parts[:end])
}

func (e Element) empty() bool {
	for _, p := range e {
		if p != "" {
			return false
		}
	}
	return true
}

// Segment is one X12 segment: an id followed by its elements in order.
type Segment struct {
	ID       string
	Elements []Element
	// Verbatim segments are rendered as given. ISA carries the separators
	// themselves as values and must not be scrubbed.
	Verbatim bool
}

// New builds a segment from plain string elements.
func New(id string, elements ...string) Segment {
	seg := Segment{ID: id, Elements: make([]Element, len(elements))}
	for i, v := range elements {
		seg.Elements[i] = Simple(v)
	}
	return seg
}

// With appends elements and returns the segment.
func (s Segment) With(elements ...Element) Segment {
	s.Elements = append(s.Elements, elements...)
	return s
}

// Render returns the segment text without the terminator. Reserved
// delimiter characters inside values are replaced with spaces, runs of
// spaces are collapsed, and trailing empty elements are trimmed.
func (s Segment) Render(d Delimiters) string {
	els := s.Elements
	if !s.Verbatim {
		els = make([]Element, len(s.Elements))
		for i, el := range s.Elements {
			els[i] = make(Element, len(el))
			for j, part := range el {
				els[i][j] = scrub(part, d)
			}
		}
	}
	end := len(els)
	for !s.Verbatim && end > 0 && els[end-1].empty() {
		end--
	}

	var b strings.Builder
	b.WriteString(s.ID)
	for _, el := range els[:end] {
		b.WriteByte(d.Element)
		for i, part := range el {
			if i > 0 {
				b.WriteByte(d.Component)
			}
			b.WriteString(part)
		}
	}
	return b.String()
}

func scrub(v string, d Delimiters) string {
	if strings.IndexFunc(v, d.reserved) < 0 && !strings.ContainsAny(v, "\r\n") {
		return v
	}
	v = strings.Map(func(r rune) rune {
		if d.reserved(r) || r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, v)
	return strings.Join(strings.Fields(v), " ")
}

// Date formats used by X12 date/time elements.
const (
	FormatD8       = "20060102" // CCYYMMDD
	FormatISADate  = "060102"   // YYMMDD
	FormatTimeHHMM = "1504"
)

// D8 formats t as CCYYMMDD.
func D8(t time.Time) string { return t.Format(FormatD8) }
