package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// defaultHistoryAPI is the vendor default event history endpoint.
	defaultHistoryAPI = "/ISAPI/AccessControl/AcsEvent?format=json"

	// maxBodyBytes bounds how much of a response body is read. Event pages
	// are small; anything larger is a misbehaving endpoint.
	maxBodyBytes = 8 << 20
)

// PageFetcher retrieves one time window of raw records from a device,
// handling pagination, the GET-to-POST transport fallback, and the varying
// response envelopes.
type PageFetcher struct {
	client *http.Client
	cfg    *config.Config
	logger *logrus.Entry
}

// NewPageFetcher creates a fetcher that issues requests through the given
// client.
func NewPageFetcher(client *http.Client, cfg *config.Config, logger *logrus.Entry) *PageFetcher {
	return &PageFetcher{client: client, cfg: cfg, logger: logger}
}

// Page is the result of one paginated retrieval.
type Page struct {
	Records []types.RawRecord
	Meta    PageMeta
}

// canonHistoryAPI guarantees a leading slash and a format=json parameter on
// the configured history path. Empty input selects the vendor default.
func canonHistoryAPI(api string) string {
	a := strings.TrimSpace(api)
	if a == "" {
		return defaultHistoryAPI
	}
	if !strings.HasPrefix(a, "/") {
		a = "/" + a
	}
	if !strings.Contains(a, "format=") {
		sep := "?"
		if strings.Contains(a, "?") {
			sep = "&"
		}
		a += sep + "format=json"
	}
	return a
}

// FetchPage executes one page retrieval for a window: primary GET against the
// history endpoint, falling back to the POST search endpoint when the primary
// response is non-success, unparsable, or yields no locatable record array.
// A malformed or empty body is zero records, not an error, so windowing
// progress stays monotonic. Network errors propagate.
func (f *PageFetcher) FetchPage(ctx context.Context, dev *config.Device, window types.Window, pageNo, pageSize int) (*Page, error) {
	page, err := f.fetchGet(ctx, dev, window, pageNo, pageSize)
	if err == nil && page != nil {
		return page, nil
	}
	if err != nil {
		f.logger.WithError(err).WithFields(logrus.Fields{
			"device": dev.ID(),
			"page":   pageNo,
		}).Debug("Primary GET fetch failed, trying search fallback")
	}

	position := (pageNo - 1) * pageSize
	page, ferr := f.fetchSearch(ctx, dev, window, position, pageSize)
	if ferr != nil {
		if err != nil {
			return nil, fmt.Errorf("primary fetch failed (%v); search fallback failed: %w", err, ferr)
		}
		return nil, fmt.Errorf("search fallback failed: %w", ferr)
	}
	return page, nil
}

// fetchGet issues the primary GET request. Returns (nil, nil) when the
// response parsed but contained no locatable record array, which triggers the
// fallback without being an error in itself.
func (f *PageFetcher) fetchGet(ctx context.Context, dev *config.Device, window types.Window, pageNo, pageSize int) (*Page, error) {
	api := canonHistoryAPI(f.cfg.Fetch.HistoryAPI)
	reqURL := fmt.Sprintf("%s%s&startTime=%s&endTime=%s&pageNo=%d&pageSize=%d",
		dev.BaseURL(), api,
		url.QueryEscape(window.Start.Format(time.RFC3339)),
		url.QueryEscape(window.End.Format(time.RFC3339)),
		pageNo, pageSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}
	req.SetBasicAuth(dev.Username, dev.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read history response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history endpoint returned HTTP %d", resp.StatusCode)
	}

	root := DecodeBody(body, resp.Header.Get("Content-Type"))
	if root == nil {
		return nil, nil
	}
	records, meta := ExtractRecords(root)
	if records == nil {
		return nil, nil
	}
	return &Page{Records: records, Meta: meta}, nil
}

// searchCond is the vendor-specific structured search body used by the POST
// fallback.
type searchCond struct {
	SearchID             string `json:"searchID"`
	SearchResultPosition int    `json:"searchResultPosition"`
	MaxResults           int    `json:"maxResults"`
	StartTime            string `json:"startTime"`
	EndTime              string `json:"endTime"`
}

func (f *PageFetcher) fetchSearch(ctx context.Context, dev *config.Device, window types.Window, position, pageSize int) (*Page, error) {
	body := map[string]searchCond{
		"AcsEventCond": {
			SearchID:             uuid.NewString(),
			SearchResultPosition: position,
			MaxResults:           pageSize,
			StartTime:            window.Start.Format(time.RFC3339),
			EndTime:              window.End.Format(time.RFC3339),
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	reqURL := dev.BaseURL() + defaultHistoryAPI
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.SetBasicAuth(dev.Username, dev.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned HTTP %d", resp.StatusCode)
	}

	root := DecodeBody(raw, resp.Header.Get("Content-Type"))
	records, meta := ExtractRecords(root)
	// No locatable array on the fallback path means an empty window.
	return &Page{Records: records, Meta: meta}, nil
}

// FetchWindow runs the full page loop for one window and returns every raw
// record in it. Pagination stops on a short page, an exhausted reported
// total, a non-advancing position, or the hard page ceiling; in the anomaly
// cases whatever was collected so far is still returned.
func (f *PageFetcher) FetchWindow(ctx context.Context, dev *config.Device, window types.Window, pageSize int) ([]types.RawRecord, error) {
	var out []types.RawRecord
	position := 0
	pageNo := 1

	for iterations := 0; ; iterations++ {
		if iterations >= MaxPagesPerWindow {
			f.logger.WithFields(logrus.Fields{
				"device": dev.ID(),
				"window": window.String(),
				"pages":  iterations,
			}).Warn("Stopping pagination after reaching the page ceiling")
			return out, nil
		}

		page, err := f.FetchPage(ctx, dev, window, pageNo, pageSize)
		if err != nil {
			return out, err
		}
		returned := len(page.Records)
		out = append(out, page.Records...)

		next, more := NextPosition(position, returned, page.Meta.TotalMatches, pageSize)
		if !more {
			return out, nil
		}
		if next <= position {
			f.logger.WithFields(logrus.Fields{
				"device":   dev.ID(),
				"window":   window.String(),
				"position": position,
				"next":     next,
			}).Warn("Detected non-advancing pagination, stopping window early")
			return out, nil
		}
		position = next
		pageNo++
	}
}
