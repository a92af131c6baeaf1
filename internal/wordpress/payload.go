package wordpress

import (
	"github.com/MarcoPoloResearchLab/wpsync/internal/content"
)

type documentPayload struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	Slug          string `json:"slug"`
	Status        string `json:"status"`
	FeaturedMedia int64  `json:"featured_media,omitempty"`
}

type idReference struct {
	ID int64 `json:"id"`
}

type productPayload struct {
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	ShortDescription string        `json:"short_description"`
	Slug             string        `json:"slug"`
	RegularPrice     string        `json:"regular_price"`
	ManageStock      bool          `json:"manage_stock"`
	StockQuantity    int           `json:"stock_quantity"`
	Categories       []idReference `json:"categories"`
	Images           []idReference `json:"images,omitempty"`
	Status           string        `json:"status"`
}

func buildPayload(item content.Item) any {
	base := item.Base()
	product, ok := item.(content.Product)
	if !ok {
		return documentPayload{
			Title:         base.Title,
			Content:       base.Body,
			Slug:          base.Slug,
			Status:        publishStatus,
			FeaturedMedia: base.FeaturedMediaID,
		}
	}

	categories := make([]idReference, 0, len(product.CategoryIDs))
	for _, id := range product.CategoryIDs {
		categories = append(categories, idReference{ID: id})
	}

	var images []idReference
	seen := make(map[int64]struct{})
	for _, id := range append([]int64{base.FeaturedMediaID}, product.ImageIDs...) {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		images = append(images, idReference{ID: id})
	}

	return productPayload{
		Name:             base.Title,
		Description:      base.Body,
		ShortDescription: shortDescription(base.Body),
		Slug:             base.Slug,
		RegularPrice:     content.FormatPrice(product.Price),
		ManageStock:      true,
		StockQuantity:    product.StockQuantity,
		Categories:       categories,
		Images:           images,
		Status:           publishStatus,
	}
}

// shortDescription keeps the first characters of the visible text.
func shortDescription(body string) string {
	text := []rune(content.PlainText(body))
	if len(text) <= shortDescriptionAt {
		return string(text)
	}
	return string(text[:shortDescriptionAt]) + "..."
}
