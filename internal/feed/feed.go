// Package feed reads RSS 2.0 and Atom 1.0 documents and turns their entries into content items.
package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownFormat reports a document whose root element is neither <rss> nor <feed>.
	ErrUnknownFormat = errors.New("feed: unknown document format")
	errEmptyDocument = errors.New("feed: empty document")
)

// Entry is one feed item normalized across formats.
type Entry struct {
	ID         string
	Title      string
	Link       string
	Summary    string
	Content    string
	Published  string
	Author     string
	Categories []string
}

// Body prefers the full content over the summary.
func (e Entry) Body() string {
	if e.Content != "" {
		return e.Content
	}
	return e.Summary
}

// Document is a parsed feed.
type Document struct {
	Title   string
	Link    string
	Entries []Entry
}

// Parse detects the format from the root element and decodes the document.
func Parse(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Document{}, errEmptyDocument
	}
	switch rootElement(trimmed) {
	case "rss", "rdf":
		return parseRSS(trimmed)
	case "feed":
		return parseAtom(trimmed)
	default:
		return Document{}, ErrUnknownFormat
	}
}

func rootElement(data []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err != nil {
			return ""
		}
		if start, ok := token.(xml.StartElement); ok {
			return strings.ToLower(start.Name.Local)
		}
	}
}

type rssDocument struct {
	Channel struct {
		Title string    `xml:"title"`
		Link  string    `xml:"link"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	// RSS 1.0 places items beside the channel.
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	GUID        string   `xml:"guid"`
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	Encoded     string   `xml:"encoded"`
	PubDate     string   `xml:"pubDate"`
	Date        string   `xml:"date"`
	Author      string   `xml:"author"`
	Creator     string   `xml:"creator"`
	Categories  []string `xml:"category"`
}

func parseRSS(data []byte) (Document, error) {
	var raw rssDocument
	if err := xml.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("feed: decode rss: %w", err)
	}

	items := append(raw.Channel.Items, raw.Items...)
	document := Document{
		Title:   strings.TrimSpace(raw.Channel.Title),
		Link:    strings.TrimSpace(raw.Channel.Link),
		Entries: make([]Entry, 0, len(items)),
	}
	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		document.Entries = append(document.Entries, Entry{
			ID:         firstNonEmpty(item.GUID, link),
			Title:      strings.TrimSpace(item.Title),
			Link:       link,
			Summary:    strings.TrimSpace(item.Description),
			Content:    strings.TrimSpace(item.Encoded),
			Published:  firstNonEmpty(item.PubDate, item.Date),
			Author:     firstNonEmpty(item.Author, item.Creator),
			Categories: trimAll(item.Categories),
		})
	}
	return document, nil
}

type atomDocument struct {
	Title   string      `xml:"title"`
	Links   []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomEntry struct {
	ID        string     `xml:"id"`
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

func parseAtom(data []byte) (Document, error) {
	var raw atomDocument
	if err := xml.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("feed: decode atom: %w", err)
	}

	document := Document{
		Title:   strings.TrimSpace(raw.Title),
		Link:    alternateLink(raw.Links),
		Entries: make([]Entry, 0, len(raw.Entries)),
	}
	for _, entry := range raw.Entries {
		link := alternateLink(entry.Links)
		author := ""
		if len(entry.Authors) > 0 {
			author = entry.Authors[0].Name
		}
		categories := make([]string, 0, len(entry.Categories))
		for _, category := range entry.Categories {
			categories = append(categories, category.Term)
		}
		document.Entries = append(document.Entries, Entry{
			ID:         firstNonEmpty(entry.ID, link),
			Title:      strings.TrimSpace(entry.Title),
			Link:       link,
			Summary:    strings.TrimSpace(entry.Summary),
			Content:    strings.TrimSpace(entry.Content),
			Published:  firstNonEmpty(entry.Published, entry.Updated),
			Author:     strings.TrimSpace(author),
			Categories: trimAll(categories),
		})
	}
	return document, nil
}

// alternateLink picks the rel="alternate" link, treating a missing rel as alternate.
func alternateLink(links []atomLink) string {
	fallback := ""
	for _, link := range links {
		href := strings.TrimSpace(link.Href)
		if href == "" {
			continue
		}
		if link.Rel == "" || link.Rel == "alternate" {
			return href
		}
		if fallback == "" {
			fallback = href
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func trimAll(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
