// Package chunker splits documents into overlapping fragments measured in
// whitespace-delimited words.
//
// Every fragment boundary falls between two words, so a fragment never cuts
// through a word. With a sentence window configured, a fragment that would
// end mid sentence is shortened to the closest preceding sentence end inside
// the window.
//
// Fragment spans index the parent text, so the parent is recovered exactly
// from the spans. Reassemble works from fragment text alone and so cannot
// see the whitespace outside the fragments: it drops leading and trailing
// whitespace, and with a zero overlap it joins fragments with one space.
package chunker

import (
	"fmt"
	"strings"

	"github.com/flarexio/ragblade/rag"
)

type Config struct {
	MaxUnits       int `json:"max_units" yaml:"maxUnits"`
	OverlapUnits   int `json:"overlap_units" yaml:"overlapUnits"`
	SentenceWindow int `json:"sentence_window,omitempty" yaml:"sentenceWindow"`
}

func (cfg Config) Validate() error {
	if cfg.MaxUnits <= 0 {
		return fmt.Errorf("%w: maxUnits must be positive, got %d", rag.ErrInvalidInput, cfg.MaxUnits)
	}

	if cfg.OverlapUnits < 0 || cfg.OverlapUnits >= cfg.MaxUnits {
		return fmt.Errorf("%w: overlapUnits must be in [0, %d), got %d",
			rag.ErrInvalidInput, cfg.MaxUnits, cfg.OverlapUnits)
	}

	if cfg.SentenceWindow < 0 {
		return fmt.Errorf("%w: sentenceWindow must not be negative", rag.ErrInvalidInput)
	}

	return nil
}

type Chunker struct {
	cfg Config
}

func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Chunker{cfg}, nil
}

func (c *Chunker) Config() Config {
	return c.cfg
}

func (c *Chunker) Chunk(doc rag.Document) ([]rag.Fragment, error) {
	return split(doc, c.cfg)
}

// Split cuts doc into fragments of at most maxUnits words; consecutive
// fragments share exactly overlapUnits words.
func Split(doc rag.Document, maxUnits, overlapUnits int) ([]rag.Fragment, error) {
	cfg := Config{
		MaxUnits:     maxUnits,
		OverlapUnits: overlapUnits,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return split(doc, cfg)
}

// FragmentID is deterministic in (document id, sequence) and sorts in
// sequence order within a document.
func FragmentID(documentID string, seq int) string {
	return fmt.Sprintf("%s#%05d", documentID, seq)
}

func split(doc rag.Document, cfg Config) ([]rag.Fragment, error) {
	words := rag.WordSpans(doc.Text)
	n := len(words)
	if n == 0 {
		return nil, nil
	}

	step := cfg.MaxUnits - cfg.OverlapUnits
	fragments := make([]rag.Fragment, 0, n/step+1)

	start := 0
	for seq := 0; ; seq++ {
		end := min(start+cfg.MaxUnits, n)
		if end < n && cfg.SentenceWindow > 0 {
			end = snapToSentence(doc.Text, words, start, end, cfg)
		}

		span := rag.Span{
			Start: words[start].Start,
			End:   words[end-1].End,
		}

		fragments = append(fragments, rag.Fragment{
			ID:         FragmentID(doc.ID, seq),
			DocumentID: doc.ID,
			Index:      seq,
			Text:       doc.Text[span.Start:span.End],
			Span:       span,
		})

		if end == n {
			break
		}

		start = end - cfg.OverlapUnits
	}

	return fragments, nil
}

// snapToSentence moves end back to just after the nearest word that closes a
// sentence, looking at most SentenceWindow words back. The cut must leave the
// next fragment starting after the current one.
func snapToSentence(text string, words []rag.Span, start, end int, cfg Config) int {
	floor := max(end-cfg.SentenceWindow, start+cfg.OverlapUnits+1)

	for cut := end; cut >= floor; cut-- {
		w := words[cut-1]
		if endsSentence(text[w.Start:w.End]) {
			return cut
		}
	}

	return end
}

func endsSentence(word string) bool {
	word = strings.TrimRight(word, `"')]}»”’`)
	if word == "" {
		return false
	}

	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	}

	return false
}

// Reassemble joins fragments produced with the given overlap back into the
// covered text. With a zero overlap the whitespace between fragments is not
// part of any fragment and is restored as a single space.
func Reassemble(fragments []rag.Fragment, overlapUnits int) string {
	var sb strings.Builder
	for i, f := range fragments {
		if i == 0 {
			sb.WriteString(f.Text)
			continue
		}

		if overlapUnits == 0 {
			sb.WriteString(" ")
			sb.WriteString(f.Text)
			continue
		}

		words := rag.WordSpans(f.Text)
		if len(words) <= overlapUnits {
			continue
		}

		sb.WriteString(f.Text[words[overlapUnits-1].End:])
	}

	return sb.String()
}
