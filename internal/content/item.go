// Package content models the items an import run pushes to a backend.
package content

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind selects the remote collection an item belongs to.
type Kind string

const (
	KindPost    Kind = "post"
	KindPage    Kind = "page"
	KindProduct Kind = "product"
)

// ParseKind maps user input onto a Kind.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindPost, "posts":
		return KindPost, nil
	case KindPage, "pages":
		return KindPage, nil
	case KindProduct, "products":
		return KindProduct, nil
	default:
		return "", fmt.Errorf("unknown content kind %q", raw)
	}
}

// MediaAsset is a binary attachment uploaded before its item is written.
type MediaAsset struct {
	Filename    string `validate:"required"`
	ContentType string
	Data        []byte `validate:"required"`
}

// Common holds the fields every item kind shares.
type Common struct {
	Title           string       `validate:"required"`
	Body            string
	Slug            string       `validate:"required,max=200,slug"`
	SourceIdentity  string       `validate:"max=2048"`
	FeaturedMediaID int64        `validate:"gte=0"`
	Media           []MediaAsset `validate:"dive"`
}

// Item is implemented by Post, Page and Product.
type Item interface {
	Kind() Kind
	Base() Common
	// FingerprintSource is the text whose hash detects drift between runs.
	FingerprintSource() string
}

type Post struct {
	Common
}

func (Post) Kind() Kind                  { return KindPost }
func (p Post) Base() Common              { return p.Common }
func (p Post) FingerprintSource() string { return p.Body }

type Page struct {
	Common
}

func (Page) Kind() Kind                  { return KindPage }
func (p Page) Base() Common              { return p.Common }
func (p Page) FingerprintSource() string { return p.Body }

// Product carries the catalogue metadata of a shop item.
type Product struct {
	Common
	Price         float64 `validate:"gte=0"`
	StockQuantity int     `validate:"gte=0"`
	CategoryIDs   []int64 `validate:"dive,gt=0"`
	ImageIDs      []int64 `validate:"dive,gt=0"`
}

func (Product) Kind() Kind     { return KindProduct }
func (p Product) Base() Common { return p.Common }

// FingerprintSource covers the body and the catalogue fields so that a price change alone is detected.
func (p Product) FingerprintSource() string {
	categories := make([]string, 0, len(p.CategoryIDs))
	for _, id := range p.CategoryIDs {
		categories = append(categories, strconv.FormatInt(id, 10))
	}
	return fmt.Sprintf("%s\x00price=%s\x00stock=%d\x00categories=%s",
		p.Body, FormatPrice(p.Price), p.StockQuantity, strings.Join(categories, ","))
}

// FormatPrice renders a price the way the shop API expects it.
func FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}

// SourceIdentity returns the stable key of an item: the caller-supplied identity or, failing that, kind and slug.
func SourceIdentity(item Item) string {
	base := item.Base()
	if identity := strings.TrimSpace(base.SourceIdentity); identity != "" {
		return identity
	}
	if strings.TrimSpace(base.Slug) == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", item.Kind(), base.Slug)
}
