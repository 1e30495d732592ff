// Package dedup builds the stable keys used to recognize previously-seen
// postings. A key always embeds the source id, so identical URLs from
// different sources never collide.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"

	"github.com/jobradar/ingest-api/internal/domain/model"
)

// ErrNoIdentity is returned when a posting carries neither an external id
// nor a URL.
var ErrNoIdentity = errors.New("posting has no external id or url")

// trackingParams are query parameters stripped during URL normalization.
// Matching is by exact name or utm_ prefix.
var trackingParams = map[string]struct{}{
	"gclid":    {},
	"fbclid":   {},
	"msclkid":  {},
	"mc_cid":   {},
	"mc_eid":   {},
	"ref":      {},
	"referrer": {},
	"source":   {},
}

// Key builds the dedup key for a posting fetched from the given source.
// The source's external id is preferred; otherwise the key is a hash of the
// normalized posting URL.
func Key(sourceID string, p *model.RawPosting) (string, error) {
	if id := strings.TrimSpace(p.ExternalID); id != "" {
		return "id:" + sourceID + ":" + id, nil
	}
	normalized, err := NormalizeURL(p.URL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return "url:" + sourceID + ":" + hex.EncodeToString(sum[:]), nil
}

// NormalizeURL canonicalizes a posting URL for keying: lowercases scheme and
// host, drops the fragment, strips tracking query parameters, sorts the
// remainder, and removes a trailing slash from the path.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNoIdentity
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("url has no host")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for name := range q {
		if isTrackingParam(name) {
			q.Del(name)
		}
	}
	// Encode sorts keys, giving a stable parameter order.
	u.RawQuery = q.Encode()

	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

func isTrackingParam(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	_, ok := trackingParams[lower]
	return ok
}
