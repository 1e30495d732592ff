// Package fetch provides HTTP-based slice fetch adapters for API and RSS
// sources.
package fetch

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jobradar/ingest-api/internal/core"
	"github.com/jobradar/ingest-api/internal/domain/model"
)

// maxResponseBytes caps a fetch response body. Providers occasionally return
// pathological payloads; past this the attempt fails rather than ballooning.
const maxResponseBytes = 16 << 20

const userAgent = "jobradar-ingest/1.0"

// Credentials holds one source's outbound auth material, keyed by slug in
// the adapter options. Values come from the environment, never the database.
type Credentials struct {
	// APIKey is sent as a bearer token for single_key sources.
	APIKey string
	// Public and Secret form the pair for public_secret sources.
	Public string
	Secret string
}

// SliceParams is the query definition stored on a slice. The adapter reads
// the endpoint and query here; everything else in the params document is
// provider-specific and passed through untouched.
type SliceParams struct {
	Endpoint string            `json:"endpoint"`
	Query    map[string]string `json:"query,omitempty"`
}

// HTTPFetcherOptions groups dependencies for HTTPFetcher.
type HTTPFetcherOptions struct {
	Client      *http.Client           // Optional: defaults to a 60s-timeout client
	Credentials map[string]Credentials // Optional: per-source-slug auth material
	Logger      *slog.Logger           // Optional: structured logger
}

// HTTPFetcher implements core.SliceFetcher over HTTP for api and rss
// sources. One fetch is one GET; paging, when a provider needs it, is
// expressed as separate slices.
type HTTPFetcher struct {
	client      *http.Client
	credentials map[string]Credentials
	logger      *slog.Logger
}

// NewHTTPFetcher creates a new HTTPFetcher.
func NewHTTPFetcher(opts HTTPFetcherOptions) *HTTPFetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "http_fetcher")
	}
	return &HTTPFetcher{
		client:      client,
		credentials: opts.Credentials,
		logger:      logger,
	}
}

// Fetch retrieves and normalizes postings for one slice.
func (f *HTTPFetcher) Fetch(ctx context.Context, req core.FetchRequest) ([]model.RawPosting, error) {
	var params SliceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, fmt.Errorf("parse slice params: %w", err)
	}
	if params.Endpoint == "" {
		return nil, errors.New("slice params missing endpoint")
	}

	body, err := f.get(ctx, req.Source, params)
	if err != nil {
		return nil, err
	}

	switch req.Source.FetchMode {
	case model.FetchModeAPI:
		return decodeAPI(body)
	case model.FetchModeRSS:
		return decodeRSS(body)
	default:
		return nil, fmt.Errorf("unsupported fetch mode: %q", req.Source.FetchMode)
	}
}

func (f *HTTPFetcher) get(ctx context.Context, src model.JobSource, params SliceParams) ([]byte, error) {
	u, err := url.Parse(params.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", params.Endpoint, err)
	}
	q := u.Query()
	for k, v := range params.Query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	if src.FetchMode == model.FetchModeAPI {
		httpReq.Header.Set("Accept", "application/json")
	}
	if err := f.applyAuth(httpReq, src); err != nil {
		return nil, err
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: provider returned %s", src.Slug, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("fetch %s: response exceeds %d bytes", src.Slug, maxResponseBytes)
	}
	return body, nil
}

func (f *HTTPFetcher) applyAuth(req *http.Request, src model.JobSource) error {
	switch src.AuthMode {
	case model.AuthModeNone:
		return nil
	case model.AuthModeSingleKey:
		creds, ok := f.credentials[src.Slug]
		if !ok || creds.APIKey == "" {
			return fmt.Errorf("no api key configured for source %s", src.Slug)
		}
		req.Header.Set("Authorization", "Bearer "+creds.APIKey)
		return nil
	case model.AuthModePublicSecret:
		creds, ok := f.credentials[src.Slug]
		if !ok || creds.Public == "" || creds.Secret == "" {
			return fmt.Errorf("no credential pair configured for source %s", src.Slug)
		}
		req.SetBasicAuth(creds.Public, creds.Secret)
		return nil
	default:
		return fmt.Errorf("unsupported auth mode: %q", src.AuthMode)
	}
}

// apiPosting is the wire shape expected from JSON API sources. Unknown
// provider fields survive in the Raw payload.
type apiPosting struct {
	ID       string     `json:"id"`
	URL      string     `json:"url"`
	Title    string     `json:"title"`
	Company  string     `json:"company"`
	Location string     `json:"location"`
	PostedAt *time.Time `json:"posted_at"`
}

// apiResponse accepts both a bare array and a {"jobs": [...]} envelope.
type apiResponse struct {
	Jobs []json.RawMessage `json:"jobs"`
}

func decodeAPI(body []byte) ([]model.RawPosting, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		var envelope apiResponse
		if envErr := json.Unmarshal(body, &envelope); envErr != nil || envelope.Jobs == nil {
			return nil, fmt.Errorf("decode api response: %w", err)
		}
		items = envelope.Jobs
	}

	postings := make([]model.RawPosting, 0, len(items))
	for _, raw := range items {
		var p apiPosting
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode api posting: %w", err)
		}
		postings = append(postings, model.RawPosting{
			ExternalID: p.ID,
			URL:        p.URL,
			Title:      p.Title,
			Company:    p.Company,
			Location:   p.Location,
			PostedAt:   p.PostedAt,
			Payload:    raw,
		})
	}
	return postings, nil
}

// rssFeed covers the RSS 2.0 subset job boards publish.
type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	GUID        string `xml:"guid"`
	Link        string `xml:"link"`
	Title       string `xml:"title"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

func decodeRSS(body []byte) ([]model.RawPosting, error) {
	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode rss feed: %w", err)
	}

	postings := make([]model.RawPosting, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		var postedAt *time.Time
		if item.PubDate != "" {
			if t, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
				postedAt = &t
			} else if t, err := time.Parse(time.RFC1123, item.PubDate); err == nil {
				postedAt = &t
			}
		}

		payload, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode rss item payload: %w", err)
		}
		postings = append(postings, model.RawPosting{
			ExternalID: item.GUID,
			URL:        item.Link,
			Title:      item.Title,
			PostedAt:   postedAt,
			Payload:    payload,
		})
	}
	return postings, nil
}
