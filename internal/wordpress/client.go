// Package wordpress speaks the minimal slice of the WordPress and WooCommerce REST APIs needed to
// upsert posts, pages and products by slug.
package wordpress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/wpsync/internal/content"
	"github.com/MarcoPoloResearchLab/wpsync/internal/transport"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const (
	coreNamespace      = "/wp/v2"
	commerceNamespace  = "/wc/v3"
	restRoot           = "/wp-json"
	publishStatus      = "publish"
	shortDescriptionAt = 150
	jsonContentType    = "application/json"
)

var (
	// ErrRemoteNotFound reports a 404 from the backend.
	ErrRemoteNotFound = errors.New("wordpress: remote resource not found")
	// ErrRemoteConflict reports a 409, typically a slug that already exists.
	ErrRemoteConflict = errors.New("wordpress: remote resource conflict")
	// ErrUnauthorized reports rejected credentials.
	ErrUnauthorized = errors.New("wordpress: unauthorized")
	// ErrUnsupportedEndpoint reports a base URL that cannot host the requested collection.
	ErrUnsupportedEndpoint = errors.New("wordpress: unsupported endpoint")
)

// StatusError carries any other non-2xx answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("wordpress status %d", e.StatusCode)
	}
	return fmt.Sprintf("wordpress status %d: %s", e.StatusCode, e.Body)
}

// Doer executes one logical request, retries included.
type Doer interface {
	Do(ctx context.Context, request transport.Request) (*transport.Response, error)
}

// Site is the target of every call: a REST base such as https://host/wp-json/wp/v2 plus credentials.
type Site struct {
	ID        int64
	BaseURL   string
	Principal string
	Secret    string
}

func (s Site) credentials() *transport.Credentials {
	return &transport.Credentials{Principal: s.Principal, Secret: s.Secret}
}

// Resource is the projection of a remote post, page or product this client cares about.
type Resource struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
}

// User is the authenticated account returned by users/me.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Client speaks the WordPress and WooCommerce REST collections of a site.
type Client struct {
	doer   Doer
	logger *zap.Logger
}

// NewClient wraps a retrying Doer. A nil logger discards output.
func NewClient(doer Doer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{doer: doer, logger: logger}
}

// NormalizeBaseURL appends the core REST namespace to bare site URLs.
func NormalizeBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case base == "":
		return ""
	case strings.HasSuffix(base, restRoot+coreNamespace):
		return base
	case strings.HasSuffix(base, restRoot):
		return base + coreNamespace
	case strings.Contains(base, restRoot+"/"):
		return base
	default:
		return base + restRoot + coreNamespace
	}
}

// ResolveEndpoint returns the collection URL for a content kind. Products live under the
// WooCommerce namespace next to the core one.
func ResolveEndpoint(base string, kind content.Kind) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch kind {
	case content.KindPost:
		return base + "/posts", nil
	case content.KindPage:
		return base + "/pages", nil
	case content.KindProduct:
		index := strings.LastIndex(base, coreNamespace)
		if index < 0 {
			return "", fmt.Errorf("%w: %s has no %s namespace", ErrUnsupportedEndpoint, base, coreNamespace)
		}
		return base[:index] + commerceNamespace + "/products", nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrUnsupportedEndpoint, kind)
	}
}

// FindBySlug looks a resource up by slug. A nil resource with a nil error means it does not exist.
func (c *Client) FindBySlug(ctx context.Context, site Site, kind content.Kind, slug string) (*Resource, error) {
	endpoint, err := ResolveEndpoint(site.BaseURL, kind)
	if err != nil {
		return nil, err
	}
	query := url.Values{"slug": []string{slug}}
	var matches []Resource
	if err := c.do(ctx, site, http.MethodGet, endpoint+"?"+query.Encode(), nil, &matches); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// Create posts a new resource to its collection.
func (c *Client) Create(ctx context.Context, site Site, item content.Item) (Resource, error) {
	endpoint, err := ResolveEndpoint(site.BaseURL, item.Kind())
	if err != nil {
		return Resource{}, err
	}
	return c.write(ctx, site, endpoint, item)
}

// Update overwrites an existing resource.
func (c *Client) Update(ctx context.Context, site Site, remoteID int64, item content.Item) (Resource, error) {
	endpoint, err := ResolveEndpoint(site.BaseURL, item.Kind())
	if err != nil {
		return Resource{}, err
	}
	return c.write(ctx, site, endpoint+"/"+strconv.FormatInt(remoteID, 10), item)
}

func (c *Client) write(ctx context.Context, site Site, endpoint string, item content.Item) (Resource, error) {
	payload, err := json.Marshal(buildPayload(item))
	if err != nil {
		return Resource{}, fmt.Errorf("wordpress: encode payload: %w", err)
	}
	var resource Resource
	if err := c.do(ctx, site, http.MethodPost, endpoint, payload, &resource); err != nil {
		return Resource{}, err
	}
	if resource.ID <= 0 {
		return Resource{}, fmt.Errorf("wordpress: response from %s carries no resource id", endpoint)
	}
	return resource, nil
}

// UploadMedia sends a binary attachment to the media library and returns its id.
func (c *Client) UploadMedia(ctx context.Context, site Site, asset content.MediaAsset) (int64, error) {
	contentType := strings.TrimSpace(asset.ContentType)
	if contentType == "" {
		contentType = mimetype.Detect(asset.Data).String()
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": asset.Filename})
	if disposition == "" {
		return 0, fmt.Errorf("wordpress: invalid media filename %q", asset.Filename)
	}

	response, err := c.doer.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		URL:         strings.TrimRight(site.BaseURL, "/") + "/media",
		Body:        asset.Data,
		ContentType: contentType,
		Headers:     http.Header{"Content-Disposition": []string{disposition}},
		Credentials: site.credentials(),
	})
	if err != nil {
		return 0, err
	}
	var resource Resource
	if err := interpret(response, &resource); err != nil {
		return 0, err
	}
	if resource.ID <= 0 {
		return 0, fmt.Errorf("wordpress: media upload of %s returned no id", asset.Filename)
	}
	c.logger.Debug("media uploaded", zap.String("filename", asset.Filename), zap.Int64("media_id", resource.ID))
	return resource.ID, nil
}

// VerifyCredentials checks that the site accepts the stored principal and secret.
func (c *Client) VerifyCredentials(ctx context.Context, site Site) (User, error) {
	var user User
	if err := c.do(ctx, site, http.MethodGet, strings.TrimRight(site.BaseURL, "/")+"/users/me", nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (c *Client) do(ctx context.Context, site Site, method, endpoint string, body []byte, out any) error {
	request := transport.Request{
		Method:      method,
		URL:         endpoint,
		Body:        body,
		Credentials: site.credentials(),
	}
	if body != nil {
		request.ContentType = jsonContentType
	}
	response, err := c.doer.Do(ctx, request)
	if err != nil {
		return err
	}
	return interpret(response, out)
}

func interpret(response *transport.Response, out any) error {
	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		if out == nil || len(response.Body) == 0 {
			return nil
		}
		if err := json.Unmarshal(response.Body, out); err != nil {
			return fmt.Errorf("wordpress: decode response: %w", err)
		}
		return nil
	case response.StatusCode == http.StatusNotFound:
		return ErrRemoteNotFound
	case response.StatusCode == http.StatusConflict:
		return ErrRemoteConflict
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, response.StatusCode)
	default:
		return &StatusError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(response.Body))}
	}
}
