package twilio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/parleyio/parley/internal/engine"
	"github.com/parleyio/parley/internal/envelope"
)

// mediaFetchTimeout bounds a single attachment download.
const mediaFetchTimeout = 120 * time.Second

// MediaFetcher downloads inbound media attachments. Twilio media URLs
// require basic auth with the account credentials; the CDN they redirect to
// does not, and the http client drops the Authorization header on the
// cross-host hop. Attachments from other channels share the fetcher, so the
// credentials ride only on requests to Twilio hosts.
type MediaFetcher struct {
	client     *http.Client
	accountSID string
	authToken  string

	// authorizeHost gates which hosts receive the account credentials;
	// swapped in tests.
	authorizeHost func(host string) bool
}

var _ engine.MediaFetcher = (*MediaFetcher)(nil)

// NewMediaFetcher builds a fetcher authenticated with the account credentials.
func NewMediaFetcher(accountSID, authToken string) *MediaFetcher {
	return &MediaFetcher{
		client:        &http.Client{Timeout: mediaFetchTimeout},
		accountSID:    accountSID,
		authToken:     authToken,
		authorizeHost: isTwilioHost,
	}
}

// Fetch downloads the media item at mediaURL and returns its bytes.
func (f *MediaFetcher) Fetch(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("twilio: build media request: %w", err)
	}
	if f.authorizeHost(req.URL.Hostname()) {
		req.SetBasicAuth(f.accountSID, f.authToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("twilio: fetch media: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twilio: read media body: %w", err)
	}
	return data, nil
}

// isTwilioHost reports whether host belongs to Twilio.
func isTwilioHost(host string) bool {
	host = strings.ToLower(host)
	return host == "twilio.com" || strings.HasSuffix(host, ".twilio.com")
}

// MediaItemsFromForm extracts the media attachments from a Twilio webhook
// form: NumMedia announces the count, MediaUrl{i}/MediaContentType{i} carry
// the items. Items missing either value are skipped.
func MediaItemsFromForm(form url.Values) []envelope.MediaItem {
	n, err := strconv.Atoi(form.Get("NumMedia"))
	if err != nil || n < 0 {
		n = 0
	}
	items := make([]envelope.MediaItem, 0, n)
	for i := 0; i < n; i++ {
		item := envelope.MediaItem{
			URL:         strings.TrimSpace(form.Get("MediaUrl" + strconv.Itoa(i))),
			ContentType: strings.TrimSpace(form.Get("MediaContentType" + strconv.Itoa(i))),
		}
		if item.URL == "" || item.ContentType == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}
