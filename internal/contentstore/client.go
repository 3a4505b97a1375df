package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"

	"github.com/gateway-fm/credential-coordinator/internal/metrics"
)

const (
	DefaultAPIURL         = "https://api.pinata.cloud"
	DefaultAttemptTimeout = 10 * time.Second
	defaultUploadTimeout  = 60 * time.Second
	defaultCacheSize      = 256
)

// DefaultGateways are tried in order by Get.
var DefaultGateways = []string{
	"https://gateway.pinata.cloud",
	"https://ipfs.io",
	"https://cloudflare-ipfs.com",
	"https://dweb.link",
}

var (
	ErrInvalidCID        = errors.New("invalid content id")
	ErrAllGatewaysFailed = errors.New("all gateways failed")
	ErrNotFound          = errors.New("content not found")
)

// Config configures a Client.
type Config struct {
	APIURL         string
	JWT            string
	Gateways       []string
	AttemptTimeout time.Duration
	UploadTimeout  time.Duration
	CacheSize      int
}

// Client pins content through a pinning API and reads it back through a chain of
// public gateways.
type Client struct {
	api            *resty.Client
	gateway        *resty.Client
	apiURL         string
	gateways       []string
	attemptTimeout time.Duration
	cache          *lru.Cache[string, []byte]
}

// NewClient creates a content store client. At least two gateways are required so that
// a single gateway outage is never visible to callers.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if len(cfg.Gateways) == 0 {
		cfg.Gateways = DefaultGateways
	}
	if len(cfg.Gateways) < 2 {
		return nil, fmt.Errorf("at least 2 gateways are required, got %d", len(cfg.Gateways))
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	cache, err := lru.New[string, []byte](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create content cache: %w", err)
	}

	gateways := make([]string, len(cfg.Gateways))
	for i, gw := range cfg.Gateways {
		gateways[i] = strings.TrimRight(gw, "/")
	}

	// uploads are retried by the caller, never here
	api := resty.New().
		SetTimeout(cfg.UploadTimeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.JWT != "" {
		api.SetAuthToken(cfg.JWT)
	}

	return &Client{
		api:            api,
		gateway:        resty.New().SetRetryCount(0),
		apiURL:         strings.TrimRight(cfg.APIURL, "/"),
		gateways:       gateways,
		attemptTimeout: cfg.AttemptTimeout,
		cache:          cache,
	}, nil
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

type pinataMetadata struct {
	Name string `json:"name"`
}

// Put pins object as JSON and returns its content id.
func (c *Client) Put(ctx context.Context, object interface{}, nameHint string) (string, error) {
	body := map[string]interface{}{
		"pinataContent":  object,
		"pinataMetadata": pinataMetadata{Name: nameHint},
	}

	var out pinResponse
	res, err := c.api.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post(c.apiURL + "/pinning/pinJSONToIPFS")
	if err != nil {
		return "", fmt.Errorf("failed to pin json: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("failed to pin json: status %d: %s", res.StatusCode(), res.String())
	}
	if _, err := cid.Decode(out.IpfsHash); err != nil {
		return "", fmt.Errorf("pinning api returned %w %q: %v", ErrInvalidCID, out.IpfsHash, err)
	}

	slog.Info("content pinned", "cid", out.IpfsHash, "name", nameHint, "size", out.PinSize)
	return out.IpfsHash, nil
}

// PutFile pins a binary document and returns its content id.
func (c *Client) PutFile(ctx context.Context, r io.Reader, filename, nameHint string) (string, error) {
	meta, err := json.Marshal(pinataMetadata{Name: nameHint})
	if err != nil {
		return "", fmt.Errorf("failed to encode pin metadata: %w", err)
	}

	var out pinResponse
	res, err := c.api.R().
		SetContext(ctx).
		SetFileReader("file", filename, r).
		SetFormData(map[string]string{"pinataMetadata": string(meta)}).
		SetResult(&out).
		Post(c.apiURL + "/pinning/pinFileToIPFS")
	if err != nil {
		return "", fmt.Errorf("failed to pin file: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("failed to pin file: status %d: %s", res.StatusCode(), res.String())
	}
	if _, err := cid.Decode(out.IpfsHash); err != nil {
		return "", fmt.Errorf("pinning api returned %w %q: %v", ErrInvalidCID, out.IpfsHash, err)
	}

	slog.Info("file pinned", "cid", out.IpfsHash, "file", filename, "size", out.PinSize)
	return out.IpfsHash, nil
}

// Get retrieves content, trying every gateway in order until one succeeds.
func (c *Client) Get(ctx context.Context, contentID string) ([]byte, error) {
	if _, err := cid.Decode(contentID); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCID, contentID, err)
	}
	if data, ok := c.cache.Get(contentID); ok {
		return data, nil
	}

	fetchErr := &FetchError{CID: contentID}
	for _, gw := range c.gateways {
		if ctx.Err() != nil {
			fetchErr.Attempts = append(fetchErr.Attempts, &AttemptError{Gateway: gw, Err: ctx.Err()})
			break
		}

		data, err := c.fetch(ctx, gw, contentID)
		if err != nil {
			slog.Warn("gateway fetch failed", "gateway", gw, "cid", contentID, "err", err)
			metrics.GatewayFailure(gw)
			fetchErr.Attempts = append(fetchErr.Attempts, &AttemptError{Gateway: gw, Err: err})
			continue
		}

		if len(fetchErr.Attempts) > 0 {
			slog.Info("content fetched after gateway fallback", "gateway", gw, "cid", contentID, "failed", len(fetchErr.Attempts))
		}
		c.cache.Add(contentID, data)
		return data, nil
	}

	return nil, fetchErr
}

// GetJSON retrieves content and decodes it into v.
func (c *Client) GetJSON(ctx context.Context, contentID string, v interface{}) error {
	data, err := c.Get(ctx, contentID)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode content %s: %w", contentID, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, gateway, contentID string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	res, err := c.gateway.R().
		SetContext(attemptCtx).
		Get(gatewayURL(gateway, contentID))
	if err != nil {
		return nil, err
	}
	if res.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode())
	}
	return res.Body(), nil
}

// URLFor returns the primary gateway URL of contentID.
func (c *Client) URLFor(contentID string) string {
	return gatewayURL(c.gateways[0], contentID)
}

func gatewayURL(gateway, contentID string) string {
	return gateway + "/ipfs/" + contentID
}

// Pin is one row of the pin list.
type Pin struct {
	CID        string    `json:"ipfs_pin_hash"`
	Size       int64     `json:"size"`
	DatePinned time.Time `json:"date_pinned"`
	Metadata   struct {
		Name string `json:"name"`
	} `json:"metadata"`
}

// List returns currently pinned content.
func (c *Client) List(ctx context.Context, limit int) ([]Pin, error) {
	if limit <= 0 {
		limit = 10
	}

	var out struct {
		Count int   `json:"count"`
		Rows  []Pin `json:"rows"`
	}
	res, err := c.api.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"status":    "pinned",
			"pageLimit": fmt.Sprintf("%d", limit),
		}).
		SetResult(&out).
		Get(c.apiURL + "/data/pinList")
	if err != nil {
		return nil, fmt.Errorf("failed to list pins: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("failed to list pins: status %d: %s", res.StatusCode(), res.String())
	}
	return out.Rows, nil
}

// Unpin removes a pin. The content may remain retrievable from gateways that cached it.
func (c *Client) Unpin(ctx context.Context, contentID string) error {
	if _, err := cid.Decode(contentID); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCID, contentID, err)
	}

	res, err := c.api.R().
		SetContext(ctx).
		Delete(c.apiURL + "/pinning/unpin/" + contentID)
	if err != nil {
		return fmt.Errorf("failed to unpin %s: %w", contentID, err)
	}
	if res.IsError() {
		return fmt.Errorf("failed to unpin %s: status %d: %s", contentID, res.StatusCode(), res.String())
	}
	c.cache.Remove(contentID)
	return nil
}
