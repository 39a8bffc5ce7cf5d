// Package extract is the text-extraction collaborator: document bytes in,
// plain text plus a confidence estimate out. The engine treats
// low-confidence text as a normal document and passes the confidence
// through for caller display.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gtext "github.com/yuin/goldmark/text"
)

// Result is extracted text with a 0..1 confidence estimate. Born-digital
// formats report 1.0; PDF confidence reflects how much of the byte stream
// decoded to printable text.
type Result struct {
	Text       string
	Confidence float64
}

// Extract pulls plain text out of a document file.
func Extract(filePath string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return extractPDF(filePath)
	case ".docx":
		return extractDOCX(filePath)
	case ".xlsx":
		return extractXLSX(filePath)
	case ".ods":
		return extractODS(filePath)
	case ".md":
		return extractMarkdown(filePath)
	case ".txt":
		return extractText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func extractPDF(filePath string) (*Result, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, err
		}
		text.WriteString(pageText)
		text.WriteString("\n\n")
	}
	out := strings.TrimSpace(text.String())
	return &Result{Text: out, Confidence: printableRatio(out)}, nil
}

func extractDOCX(filePath string) (*Result, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var lines []string
	for _, p := range strings.Split(content, "\n") {
		if strings.TrimSpace(p) != "" {
			lines = append(lines, p)
		}
	}
	return &Result{Text: strings.Join(lines, "\n"), Confidence: 1}, nil
}

func extractXLSX(filePath string) (*Result, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		fmt.Fprintf(&text, "Sheet: %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		text.WriteString("\n")
	}
	return &Result{Text: strings.TrimSpace(text.String()), Confidence: 1}, nil
}

func extractODS(filePath string) (*Result, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		fmt.Fprintf(&text, "Sheet: %s\n", sheetName)
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		text.WriteString("\n")
	}
	return &Result{Text: strings.TrimSpace(text.String()), Confidence: 1}, nil
}

// extractMarkdown parses the markdown AST and collects text nodes, so
// formatting syntax never pollutes the chunker's sentence splitting.
func extractMarkdown(filePath string) (*Result, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(gtext.NewReader(src))

	var text strings.Builder
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if _, blockEnd := n.(*ast.Paragraph); blockEnd {
				text.WriteString("\n\n")
			}
			if _, heading := n.(*ast.Heading); heading {
				text.WriteString("\n\n")
			}
			if _, item := n.(*ast.TextBlock); item {
				text.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			text.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				text.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Text: strings.TrimSpace(text.String()), Confidence: 1}, nil
}

func extractText(filePath string) (*Result, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return &Result{Text: strings.TrimSpace(string(data)), Confidence: 1}, nil
}

// printableRatio estimates how much of the extracted text is readable.
func printableRatio(s string) float64 {
	if s == "" {
		return 0
	}
	printable := 0
	total := 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable) / float64(total)
}
