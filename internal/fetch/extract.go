package fetch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/net/html"
	"rsc.io/pdf"
)

var errUnsupportedContentType = errors.New("unsupported content type")

const maxExtractRunes = 220_000

// ExtractText turns a fetched body into plain text according to its content
// type. HTML goes through readability first, with a raw node walk as a
// fallback for pages readability cannot parse.
func ExtractText(pageURL, contentType string, body []byte) (title, text string, err error) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, parseErr := mime.ParseMediaType(mediaType); parseErr == nil {
		mediaType = parsed
	}

	switch mediaType {
	case "text/html", "application/xhtml+xml", "":
		title, text, err = extractArticleText(pageURL, body)
	case "text/plain", "text/markdown", "text/csv":
		text = normalizeExtractedText(string(body))
	case "application/json":
		text, err = extractJSONText(body)
	case "application/pdf":
		text, err = extractPDFTextFromBody(body)
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.ms-excel":
		text, err = extractSpreadsheetText(body)
	default:
		if strings.HasPrefix(mediaType, "text/") {
			text = normalizeExtractedText(string(body))
			break
		}
		return "", "", errUnsupportedContentType
	}
	if err != nil {
		return "", "", err
	}
	title = trimToRunes(strings.TrimSpace(title), 240)
	text = trimToRunes(normalizeExtractedText(text), maxExtractRunes)
	return title, text, nil
}

func extractArticleText(pageURL string, body []byte) (title, text string, err error) {
	parsedURL, parseErr := url.Parse(pageURL)
	if parseErr == nil {
		article, readErr := readability.FromReader(bytes.NewReader(body), parsedURL)
		if readErr == nil && strings.TrimSpace(article.TextContent) != "" {
			return article.Title, article.TextContent, nil
		}
	}
	return extractHTMLText(body)
}

func extractJSONText(data []byte) (string, error) {
	if !json.Valid(data) {
		return normalizeExtractedText(string(data)), nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return "", err
	}
	return normalizeExtractedText(pretty.String()), nil
}

func extractPDFTextFromBody(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	runeCount := 0
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		content := page.Content()
		for _, item := range content.Text {
			chunk := strings.TrimSpace(item.S)
			if chunk == "" {
				continue
			}
			if textBuilder.Len() > 0 {
				textBuilder.WriteByte('\n')
				runeCount++
			}
			textBuilder.WriteString(chunk)
			runeCount += utf8.RuneCountInString(chunk)
			if runeCount >= maxExtractRunes {
				return trimToRunes(textBuilder.String(), maxExtractRunes), nil
			}
		}
	}

	return normalizeExtractedText(textBuilder.String()), nil
}

func extractSpreadsheetText(data []byte) (string, error) {
	workbook, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", fmt.Errorf("open spreadsheet: %w", err)
	}

	var builder strings.Builder
	for _, sheet := range workbook.Sheets {
		if builder.Len() > 0 {
			builder.WriteByte('\n')
		}
		builder.WriteString("Sheet: ")
		builder.WriteString(sheet.Name)
		builder.WriteByte('\n')
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, strings.TrimSpace(cell.String()))
			}
			line := strings.TrimSpace(strings.Join(cells, ", "))
			if line == "" {
				continue
			}
			builder.WriteString(line)
			builder.WriteByte('\n')
			if utf8.RuneCountInString(builder.String()) >= maxExtractRunes {
				return trimToRunes(builder.String(), maxExtractRunes), nil
			}
		}
	}
	return normalizeExtractedText(builder.String()), nil
}

func extractHTMLText(data []byte) (title, text string, err error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	title = strings.TrimSpace(findHTMLTitle(doc))
	var builder strings.Builder
	walkHTMLText(doc, false, &builder)
	return title, normalizeExtractedText(builder.String()), nil
}

func findHTMLTitle(node *html.Node) string {
	if node == nil {
		return ""
	}
	if node.Type == html.ElementNode && strings.EqualFold(node.Data, "title") {
		return strings.TrimSpace(textFromNode(node))
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if value := findHTMLTitle(child); value != "" {
			return value
		}
	}
	return ""
}

func textFromNode(node *html.Node) string {
	if node == nil {
		return ""
	}
	if node.Type == html.TextNode {
		return node.Data
	}
	var builder strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		builder.WriteString(textFromNode(child))
		builder.WriteByte(' ')
	}
	return builder.String()
}

func walkHTMLText(node *html.Node, skip bool, out *strings.Builder) {
	if node == nil || out == nil {
		return
	}
	if node.Type == html.ElementNode {
		switch strings.ToLower(node.Data) {
		case "script", "style", "noscript", "svg", "iframe", "head":
			skip = true
		case "p", "div", "section", "article", "li", "h1", "h2", "h3", "h4", "h5", "h6", "br", "tr":
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
		}
	}
	if node.Type == html.TextNode && !skip {
		trimmed := strings.TrimSpace(node.Data)
		if trimmed != "" {
			out.WriteString(trimmed)
			out.WriteByte(' ')
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walkHTMLText(child, skip, out)
	}
}

func normalizeExtractedText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ToValidUTF8(normalized, "")

	lines := strings.Split(normalized, "\n")
	compact := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		compact = append(compact, strings.Join(strings.Fields(trimmed), " "))
	}
	return strings.TrimSpace(strings.Join(compact, "\n"))
}

func trimToRunes(value string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return strings.TrimSpace(string(runes[:max]))
}
