package feed

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/wpsync/internal/content"
)

const (
	DefaultMaxItems     = 5
	DefaultProductPrice = 19.99
	DefaultProductStock = 100
)

var pricePattern = regexp.MustCompile(`(?i)precio[:\s]*[$€£]?\s*(\d+[,.]\d+|\d+)`)

// Options controls how entries become items.
type Options struct {
	Kind     content.Kind
	MaxItems int
	// Template, when set, renders the final body from TemplateData.
	Template          *template.Template
	DefaultPrice      float64
	DefaultStock      int
	DefaultCategories []int64
}

// DefaultOptions returns the conversion settings used when the operator overrides nothing.
func DefaultOptions(kind content.Kind) Options {
	return Options{
		Kind:              kind,
		MaxItems:          DefaultMaxItems,
		DefaultPrice:      DefaultProductPrice,
		DefaultStock:      DefaultProductStock,
		DefaultCategories: []int64{1},
	}
}

// TemplateData is what a body template sees for one entry.
type TemplateData struct {
	Title      string
	Content    template.HTML
	Link       string
	Published  string
	Author     string
	Categories []string
}

// LoadTemplate parses a body template file.
func LoadTemplate(path string) (*template.Template, error) {
	parsed, err := template.ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("feed: load template %s: %w", path, err)
	}
	return parsed, nil
}

// ToItems converts the first MaxItems entries into items of the requested kind. The entry link is
// the source identity and the title yields the slug. A template failure aborts the conversion.
func ToItems(document Document, options Options) ([]content.Item, error) {
	entries := document.Entries
	if options.MaxItems > 0 && len(entries) > options.MaxItems {
		entries = entries[:options.MaxItems]
	}

	items := make([]content.Item, 0, len(entries))
	for index, entry := range entries {
		title := entry.Title
		if title == "" {
			title = fmt.Sprintf("Untitled %d", index+1)
		}
		original := entry.Body()
		body := content.SanitizeHTML(original)
		if options.Template != nil {
			rendered, err := render(options.Template, entry, title, body)
			if err != nil {
				return nil, fmt.Errorf("feed: render entry %d (%s): %w", index+1, entry.Link, err)
			}
			body = rendered
		}

		common := content.Common{
			Title:          title,
			Body:           body,
			Slug:           content.Slugify(title),
			SourceIdentity: firstNonEmpty(entry.Link, entry.ID),
		}

		switch options.Kind {
		case content.KindPost:
			items = append(items, content.Post{Common: common})
		case content.KindPage:
			items = append(items, content.Page{Common: common})
		case content.KindProduct:
			items = append(items, content.Product{
				Common:        common,
				Price:         extractPrice(original, options.DefaultPrice),
				StockQuantity: options.DefaultStock,
				CategoryIDs:   append([]int64(nil), options.DefaultCategories...),
			})
		default:
			return nil, fmt.Errorf("feed: unsupported content kind %q", options.Kind)
		}
	}
	return items, nil
}

func render(tmpl *template.Template, entry Entry, title, body string) (string, error) {
	var buffer bytes.Buffer
	err := tmpl.Execute(&buffer, TemplateData{
		Title:      title,
		Content:    template.HTML(body),
		Link:       entry.Link,
		Published:  entry.Published,
		Author:     entry.Author,
		Categories: entry.Categories,
	})
	if err != nil {
		return "", err
	}
	return buffer.String(), nil
}

// extractPrice reads a "precio: 12,50" style hint from the raw entry body.
func extractPrice(body string, fallback float64) float64 {
	match := pricePattern.FindStringSubmatch(body)
	if match == nil {
		return fallback
	}
	price, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil {
		return fallback
	}
	return price
}
