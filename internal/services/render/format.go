package render

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/revelo/pkg/models"
)

// convertContent turns raw markup into the requested output format.
func convertContent(markup string, format models.OutputFormat) (string, error) {
	switch format {
	case models.FormatHTML, "":
		return markup, nil
	case models.FormatMarkdown:
		converter := md.NewConverter("", true, nil)
		out, err := converter.ConvertString(markup)
		if err != nil {
			return "", fmt.Errorf("markdown conversion failed: %w", err)
		}
		return out, nil
	case models.FormatText:
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
		if err != nil {
			return "", fmt.Errorf("text extraction failed: %w", err)
		}
		doc.Find("script, style, noscript").Remove()
		return strings.TrimSpace(doc.Text()), nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

// countLinks reports how many anchors with an href the markup carries.
func countLinks(markup string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return 0
	}
	return doc.Find("a[href]").Length()
}
