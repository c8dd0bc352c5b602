// Package fs loads documents from a directory tree.
package fs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/flarexio/ragblade/rag"
)

// Extractor returns the plain text of the file at path.
type Extractor func(path string) (string, error)

var extractors = map[string]Extractor{
	".txt":  extractText,
	".md":   extractMarkdown,
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractXLSX,
}

const (
	MetaSource    = "source"
	MetaExtension = "extension"
)

// Source walks Root in lexical order and turns every file with a supported
// extension into a document whose id is its slash separated path relative to
// Root. An empty Extensions list means every supported extension.
type Source struct {
	Root       string
	Extensions []string

	log *zap.Logger
}

func NewSource(root string, extensions ...string) *Source {
	return &Source{
		Root:       root,
		Extensions: extensions,
		log:        zap.L().With(zap.String("source", root)),
	}
}

func (s *Source) accepts(ext string) (Extractor, bool) {
	extract, ok := extractors[ext]
	if !ok {
		return nil, false
	}

	if len(s.Extensions) > 0 && !slices.Contains(s.Extensions, ext) {
		return nil, false
	}

	return extract, true
}

func (s *Source) Load(ctx context.Context) ([]rag.Document, error) {
	info, err := os.Stat(s.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrSourceUnavailable, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", rag.ErrSourceUnavailable, s.Root)
	}

	log := s.log
	if log == nil {
		log = zap.L()
	}

	var docs []rag.Document
	err = filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %w", rag.ErrSourceUnavailable, err)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if path != s.Root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))

		extract, ok := s.accepts(ext)
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		text, err := extract(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", rag.ErrParse, rel, err)
		}

		docs = append(docs, rag.Document{
			ID:   rel,
			Text: text,
			Metadata: map[string]string{
				MetaSource:    rel,
				MetaExtension: ext,
			},
		})

		log.Debug("document loaded",
			zap.String("document", rel),
			zap.Int("units", rag.CountUnits(text)),
		)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return docs, nil
}
