package content

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonWordPattern   = regexp.MustCompile(`[^\w\s-]`)
	separatorPattern = regexp.MustCompile(`[-\s_]+`)
	bodyPolicy       = bluemonday.UGCPolicy()
)

// Slugify folds text to a lowercase ASCII slug: accents are decomposed and dropped, runs of
// separators collapse to one hyphen.
func Slugify(text string) string {
	folding := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(runes.Predicate(isNonASCII)))
	folded, _, err := transform.String(folding, text)
	if err != nil {
		folded = text
	}
	folded = strings.ToLower(folded)
	folded = nonWordPattern.ReplaceAllString(folded, "")
	folded = separatorPattern.ReplaceAllString(folded, "-")
	return strings.Trim(folded, "-")
}

func isNonASCII(r rune) bool {
	return r > unicode.MaxASCII
}

// SanitizeHTML strips scripts, event handlers and other unsafe markup from feed bodies.
func SanitizeHTML(body string) string {
	return strings.TrimSpace(bodyPolicy.Sanitize(body))
}

// ExtractImageURLs returns the distinct img sources in document order.
func ExtractImageURLs(body string) []string {
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	seen := make(map[string]struct{})
	var urls []string
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return urls
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.DataAtom != atom.Img {
				continue
			}
			for _, attr := range token.Attr {
				if attr.Key != "src" {
					continue
				}
				src := strings.TrimSpace(attr.Val)
				if src == "" {
					continue
				}
				if _, ok := seen[src]; ok {
					continue
				}
				seen[src] = struct{}{}
				urls = append(urls, src)
			}
		}
	}
}

// PlainText collapses markup to its visible text.
func PlainText(body string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	var builder strings.Builder
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(builder.String()), " ")
		case html.TextToken:
			builder.Write(tokenizer.Text())
			builder.WriteByte(' ')
		}
	}
}
