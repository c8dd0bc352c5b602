// Package rag holds the domain types shared by the ingestion and query paths:
// documents and their fragments, prompts, the error taxonomy and the narrow
// capability ports the core consumes.
package rag

import (
	"strings"
	"unicode"
)

type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Span is a byte range into the parent document text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int {
	return s.End - s.Start
}

// Overlap returns the number of bytes shared by two spans.
func (s Span) Overlap(other Span) int {
	start := max(s.Start, other.Start)
	end := min(s.End, other.End)
	if end <= start {
		return 0
	}

	return end - start
}

type Fragment struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Span       Span   `json:"span"`
}

// Metadata keys written on every stored fragment.
const (
	MetaDocumentID = "document_id"
	MetaSequence   = "sequence"
	MetaSpanStart  = "span_start"
	MetaSpanEnd    = "span_end"
)

// Units splits text into the unit used for every size budget in the
// pipeline: a whitespace-delimited word.
func Units(text string) []string {
	return strings.Fields(text)
}

func CountUnits(text string) int {
	return len(strings.Fields(text))
}

// TruncateUnits keeps the first n words of text, preserving the original
// spacing between them.
func TruncateUnits(text string, n int) string {
	if n <= 0 {
		return ""
	}

	spans := WordSpans(text)
	if len(spans) <= n {
		return text
	}

	return text[spans[0].Start:spans[n-1].End]
}

// WordSpans returns the byte span of every word in text.
func WordSpans(text string) []Span {
	var (
		spans []Span
		start = -1
	)

	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, Span{start, i})
				start = -1
			}
			continue
		}

		if start < 0 {
			start = i
		}
	}

	if start >= 0 {
		spans = append(spans, Span{start, len(text)})
	}

	return spans
}
