// Package packer assembles ranked fragments into a context block that fits a
// unit budget.
package packer

import (
	"strconv"
	"strings"

	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
)

const Separator = "\n\n"

type Context struct {
	Text      string   `json:"text"`
	Units     int      `json:"units"`
	Fragments []string `json:"fragments"`
	Truncated bool     `json:"truncated,omitempty"`
}

func (c Context) Empty() bool {
	return len(c.Fragments) == 0
}

type piece struct {
	hit      vector.Hit
	document string
	span     rag.Span
	located  bool
}

func locate(hit vector.Hit) piece {
	p := piece{
		hit:      hit,
		document: hit.Metadata[rag.MetaDocumentID],
	}

	start, err1 := strconv.Atoi(hit.Metadata[rag.MetaSpanStart])
	end, err2 := strconv.Atoi(hit.Metadata[rag.MetaSpanEnd])
	if err1 != nil || err2 != nil || p.document == "" || end-start != len(hit.Content) {
		return p
	}

	p.span = rag.Span{Start: start, End: end}
	p.located = true
	return p
}

// trim cuts from p the regions it shares with already included fragments of
// the same document, so overlapping words are emitted and counted once.
func (p piece) trim(included []piece) string {
	lo, hi := 0, len(p.hit.Content)
	if !p.located {
		return p.hit.Content
	}

	for _, other := range included {
		if !other.located || other.document != p.document || p.span.Overlap(other.span) == 0 {
			continue
		}

		// other precedes p: drop p's head
		if other.span.Start <= p.span.Start {
			lo = max(lo, other.span.End-p.span.Start)
		}

		// other follows p: drop p's tail
		if other.span.End >= p.span.End {
			hi = min(hi, other.span.Start-p.span.Start)
		}
	}

	if lo >= hi {
		return ""
	}

	return strings.TrimSpace(p.hit.Content[lo:hi])
}

func contained(text string, included []piece) bool {
	for _, other := range included {
		if strings.Contains(other.hit.Content, text) {
			return true
		}
	}

	return false
}

// Pack walks result in rank order and includes fragments until the next one
// would overflow budget. Fragments already contained in an included one are
// skipped. A top fragment larger than the whole budget is truncated to it.
// The output keeps rank order.
func Pack(result vector.Result, budget int) Context {
	var (
		included []piece
		parts    []string
		packed   Context
	)

	for _, hit := range result {
		text := strings.TrimSpace(hit.Content)
		if text == "" || contained(text, included) {
			continue
		}

		p := locate(hit)

		emitted := p.trim(included)
		if emitted == "" {
			continue
		}

		units := rag.CountUnits(emitted)
		if packed.Units+units > budget {
			if len(included) > 0 || budget <= 0 {
				break
			}

			emitted = rag.TruncateUnits(emitted, budget)
			units = budget
			packed.Truncated = true
		}

		included = append(included, p)
		parts = append(parts, emitted)
		packed.Fragments = append(packed.Fragments, hit.ID)
		packed.Units += units

		if packed.Truncated {
			break
		}
	}

	packed.Text = strings.Join(parts, Separator)
	return packed
}
