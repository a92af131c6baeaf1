package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/MarcoPoloResearchLab/wpsync/internal/content"
	"github.com/MarcoPoloResearchLab/wpsync/internal/transport"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const defaultImageFilename = "image"

var (
	errMissingDoer    = errors.New("feed fetcher requires a transport")
	errNotAnImage     = errors.New("downloaded payload is not an image")
	errUnsupportedURL = errors.New("image url must be absolute http(s)")
)

// Doer issues retried HTTP requests; *transport.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, request transport.Request) (*transport.Response, error)
}

// FetchError reports a feed or image download answered with a non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed: GET %s returned status %d", e.URL, e.StatusCode)
}

// Fetcher downloads feeds and the images their entries reference.
type Fetcher struct {
	doer   Doer
	logger *zap.Logger
}

// NewFetcher requires a Doer. A nil logger discards output.
func NewFetcher(doer Doer, logger *zap.Logger) (*Fetcher, error) {
	if doer == nil {
		return nil, errMissingDoer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{doer: doer, logger: logger}, nil
}

// Fetch downloads and parses the feed at feedURL.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (Document, error) {
	body, err := f.get(ctx, feedURL)
	if err != nil {
		return Document{}, err
	}
	document, err := Parse(body)
	if err != nil {
		return Document{}, fmt.Errorf("feed: %s: %w", feedURL, err)
	}
	f.logger.Info("feed fetched", zap.String("url", feedURL), zap.Int("entries", len(document.Entries)))
	return document, nil
}

// AttachImages downloads up to limit images referenced by each item's body and attaches them as
// media assets. Images that fail to download are logged and left out; limit <= 0 means no cap.
func (f *Fetcher) AttachImages(ctx context.Context, items []content.Item, limit int) []content.Item {
	attached := make([]content.Item, 0, len(items))
	for _, item := range items {
		sources := content.ExtractImageURLs(item.Base().Body)
		if limit > 0 && len(sources) > limit {
			sources = sources[:limit]
		}
		var assets []content.MediaAsset
		for _, source := range sources {
			asset, err := f.downloadImage(ctx, source)
			if err != nil {
				f.logger.Warn("image download failed",
					zap.String("slug", item.Base().Slug),
					zap.String("url", source),
					zap.Error(err))
				continue
			}
			assets = append(assets, asset)
		}
		attached = append(attached, withMedia(item, assets))
	}
	return attached
}

func (f *Fetcher) downloadImage(ctx context.Context, source string) (content.MediaAsset, error) {
	parsed, err := url.Parse(source)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return content.MediaAsset{}, errUnsupportedURL
	}
	data, err := f.get(ctx, source)
	if err != nil {
		return content.MediaAsset{}, err
	}
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return content.MediaAsset{}, fmt.Errorf("%w: %s", errNotAnImage, detected.String())
	}
	filename := path.Base(parsed.Path)
	if filename == "." || filename == "/" || filename == "" {
		filename = defaultImageFilename + detected.Extension()
	}
	return content.MediaAsset{Filename: filename, ContentType: detected.String(), Data: data}, nil
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	response, err := f.doer.Do(ctx, transport.Request{Method: http.MethodGet, URL: target})
	if err != nil {
		return nil, fmt.Errorf("feed: GET %s: %w", target, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &FetchError{URL: target, StatusCode: response.StatusCode}
	}
	return response.Body, nil
}

func withMedia(item content.Item, assets []content.MediaAsset) content.Item {
	if len(assets) == 0 {
		return item
	}
	switch typed := item.(type) {
	case content.Post:
		typed.Media = append(typed.Media, assets...)
		return typed
	case content.Page:
		typed.Media = append(typed.Media, assets...)
		return typed
	case content.Product:
		typed.Media = append(typed.Media, assets...)
		return typed
	default:
		return item
	}
}
