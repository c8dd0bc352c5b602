package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/flarexio/ragblade/rag"
)

func writeFile(t *testing.T, root, name, content string) {
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadWalksInLexicalOrder(t *testing.T) {
	assert := assert.New(t)

	root := t.TempDir()
	writeFile(t, root, "b.txt", "second file")
	writeFile(t, root, "a.txt", "first file")
	writeFile(t, root, "posts/2024/silverado.md", "# Silverado\n\nThe *hybrid* tows **well**.")
	writeFile(t, root, "image.bin", "\x00\x01")
	writeFile(t, root, ".git/config", "ignored")

	docs, err := NewSource(root).Load(context.Background())
	require.NoError(t, err)

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}

	assert.Equal([]string{"a.txt", "b.txt", "posts/2024/silverado.md"}, ids)
	assert.Equal("first file", docs[0].Text)
	assert.Equal("Silverado\nThe hybrid tows well.", docs[2].Text)
	assert.Equal(map[string]string{
		MetaSource:    "posts/2024/silverado.md",
		MetaExtension: ".md",
	}, docs[2].Metadata)
}

func TestLoadFiltersExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "plain")
	writeFile(t, root, "b.md", "markdown")

	docs, err := NewSource(root, ".md").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b.md", docs[0].ID)
}

func TestLoadMissingRoot(t *testing.T) {
	_, err := NewSource(filepath.Join(t.TempDir(), "missing")).Load(context.Background())
	assert.ErrorIs(t, err, rag.ErrSourceUnavailable)
}

func TestLoadParseFailureNamesFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "broken.pdf", "not a pdf at all")

	_, err := NewSource(root).Load(context.Background())
	assert.ErrorIs(t, err, rag.ErrParse)
	assert.ErrorContains(t, err, "broken.pdf")
}

func TestLoadCanceled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "plain")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSource(root).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specs.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Model"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Towing"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Silverado"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "9500"))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	text, err := extractXLSX(path)
	require.NoError(t, err)
	assert.Equal(t, "Sheet: Sheet1\nModel\tTowing\nSilverado\t9500", text)
}

func TestDOCXText(t *testing.T) {
	content := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Towing</w:t></w:r><w:r><w:t xml:space="preserve"> capacity</w:t></w:r></w:p>
<w:p><w:r><w:t>9,500 lbs</w:t><w:tab/><w:t>max</w:t></w:r></w:p>
</w:body>
</w:document>`

	text, err := docxText(content)
	require.NoError(t, err)
	assert.Equal(t, "Towing capacity\n9,500 lbs\tmax", text)
}

func TestMarkdownText(t *testing.T) {
	src := "## Specs\n\n- torque: 430 lb-ft\n- see <https://chevrolet.com>\n\n```\ncode stays\n```\n"

	assert.Equal(t, "Specs\ntorque: 430 lb-ft\nsee https://chevrolet.com\ncode stays", markdownText([]byte(src)))
}
