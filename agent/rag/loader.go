package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

// Document source types recorded in chunk metadata.
const (
	TypeText = "text"
	TypePDF  = "pdf"
	TypeJSON = "json"
)

// Page is one page (or the whole body, for unpaged formats) of a loaded
// document.
type Page struct {
	Number int
	Text   string
}

// Document is a loaded knowledge-base file before splitting.
type Document struct {
	Source string
	Type   string
	Pages  []Page
}

// LoadFile reads a single knowledge-base file. Supported formats: .txt
// and .md as plain text, .pdf page by page, .json flattened to
// "key: value" lines.
func LoadFile(path string) (Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return loadText(path)
	case ".pdf":
		return loadPDF(path)
	case ".json":
		return loadJSON(path)
	default:
		return Document{}, fmt.Errorf("%w: unsupported document format %q", contractx.ErrValidation, filepath.Ext(path))
	}
}

// LoadDir loads every supported file directly under dir, in name order.
// Unsupported or unreadable files are skipped with a warning so one bad
// file never blocks the rest of the knowledge base.
func LoadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read knowledge dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".txt", ".md", ".pdf", ".json":
		default:
			continue
		}
		doc, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable document")
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func loadText(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read text document: %w", err)
	}
	return Document{
		Source: filepath.Base(path),
		Type:   TypeText,
		Pages:  []Page{{Number: 0, Text: string(raw)}},
	}, nil
}

func loadPDF(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Document{}, fmt.Errorf("stat pdf: %w", err)
	}
	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return Document{}, fmt.Errorf("parse pdf: %w", err)
	}

	doc := Document{Source: filepath.Base(path), Type: TypePDF}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Warn().Err(err).Str("file", doc.Source).Int("page", i).Msg("skipping unreadable pdf page")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		doc.Pages = append(doc.Pages, Page{Number: i, Text: text})
	}
	return doc, nil
}

// loadJSON flattens arbitrary JSON into indented "key: value" lines so
// structured company data embeds as readable prose.
func loadJSON(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read json document: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return Document{}, fmt.Errorf("parse json document: %w", err)
	}

	var b strings.Builder
	flattenJSON(&b, "", data, 0)
	return Document{
		Source: filepath.Base(path),
		Type:   TypeJSON,
		Pages:  []Page{{Number: 0, Text: b.String()}},
	}, nil
}

func flattenJSON(b *strings.Builder, key string, value any, depth int) {
	indent := strings.Repeat("  ", depth)
	switch v := value.(type) {
	case map[string]any:
		if key != "" {
			b.WriteString(indent + key + ":\n")
			depth++
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(b, k, v[k], depth)
		}
	case []any:
		if key != "" {
			b.WriteString(indent + key + ":\n")
			depth++
		}
		for _, item := range v {
			flattenJSON(b, "-", item, depth)
		}
	default:
		if key == "" {
			b.WriteString(fmt.Sprintf("%s%v\n", indent, v))
			return
		}
		b.WriteString(fmt.Sprintf("%s%s: %v\n", indent, key, v))
	}
}

// Chunks splits a document into retrieval chunks with provenance
// metadata. Chunk IDs are stable across rebuilds of the same content.
func (d Document) Chunks(splitter Splitter) []contractx.Chunk {
	var chunks []contractx.Chunk
	n := 0
	for _, page := range d.Pages {
		for _, piece := range splitter.Split(page.Text) {
			chunks = append(chunks, contractx.Chunk{
				ID:      fmt.Sprintf("%s#%d", d.Source, n),
				Content: piece,
				Metadata: contractx.ChunkMetadata{
					Source:    d.Source,
					Type:      d.Type,
					Page:      page.Number,
					ChunkID:   n,
					ChunkSize: len(piece),
				},
			})
			n++
		}
	}
	return chunks
}
