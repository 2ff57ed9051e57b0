package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"nutrition-rag/internal/config"
	"nutrition-rag/internal/models"
)

// DatasetLoader reads a tabular dataset into one Record per data row.
type DatasetLoader struct {
	columns []string
	sheet   string
}

func NewDatasetLoader(cfg config.DatasetConfig) *DatasetLoader {
	return &DatasetLoader{columns: cfg.Columns, sheet: cfg.Sheet}
}

// Load parses the file at path. Every failure, including a file with no data
// rows, wraps models.ErrDataAccess.
func (l *DatasetLoader) Load(ctx context.Context, path string) ([]models.Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDataAccess, err)
	}

	var (
		records []models.Record
		err     error
	)
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		records, err = l.parseCSV(ctx, path)
	case ".xlsx", ".xlsm":
		records, err = l.parseXLSX(path)
	case ".md", ".markdown":
		records, err = l.parseMarkdownTable(path)
	default:
		return nil, fmt.Errorf("%w: unsupported file format: %s", models.ErrDataAccess, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrDataAccess, path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s has no data rows", models.ErrDataAccess, path)
	}

	log.Debug().Str("path", path).Int("records", len(records)).Msg("Loaded dataset")
	return records, nil
}

func (l *DatasetLoader) parseCSV(ctx context.Context, path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewCSV(f, l.columns...).Load(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]models.Record, 0, len(docs))
	for i, doc := range docs {
		if strings.TrimSpace(doc.PageContent) == "" {
			continue
		}
		records = append(records, models.Record{
			Source: path,
			Row:    i + 1,
			Text:   doc.PageContent,
			Fields: parseFields(doc.PageContent),
		})
	}
	return records, nil
}

func (l *DatasetLoader) parseXLSX(path string) ([]models.Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := l.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return l.tableRecords(path, rows[0], rows[1:]), nil
}

func (l *DatasetLoader) parseMarkdownTable(path string) ([]models.Record, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(src))

	var (
		header []string
		rows   [][]string
	)
	// only the first table in the document is read
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *extast.Table:
			if header != nil {
				return ast.WalkStop, nil
			}
		case *extast.TableHeader:
			header = cellTexts(n, src)
			return ast.WalkSkipChildren, nil
		case *extast.TableRow:
			rows = append(rows, cellTexts(n, src))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("no markdown table found")
	}
	return l.tableRecords(path, header, rows), nil
}

// tableRecords serializes rows the same way the CSV loader does.
func (l *DatasetLoader) tableRecords(path string, header []string, rows [][]string) []models.Record {
	var records []models.Record
	for i, row := range rows {
		var lines []string
		fields := make(map[string]string, len(header))
		empty := true
		for c, name := range header {
			if l.columns != nil && !slices.Contains(l.columns, name) {
				continue
			}
			value := ""
			if c < len(row) {
				value = strings.TrimSpace(row[c])
			}
			if value != "" {
				empty = false
			}
			fields[name] = value
			lines = append(lines, fmt.Sprintf("%s: %s", name, value))
		}
		if empty {
			continue
		}
		records = append(records, models.Record{
			Source: path,
			Row:    i + 1,
			Text:   strings.Join(lines, "\n"),
			Fields: fields,
		})
	}
	return records
}

func parseFields(content string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		if k, v, ok := strings.Cut(line, ": "); ok {
			fields[k] = v
		}
	}
	return fields
}

func cellTexts(n ast.Node, src []byte) []string {
	var cells []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if _, ok := c.(*extast.TableCell); ok {
			cells = append(cells, nodeText(c, src))
		}
	}
	return cells
}

func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		default:
			b.WriteString(nodeText(c, src))
		}
	}
	return strings.TrimSpace(b.String())
}
