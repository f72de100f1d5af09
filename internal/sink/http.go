package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// maxErrorBodyBytes bounds how much of an error response body is captured
// for diagnostics.
const maxErrorBodyBytes = 2048

// HTTPSink POSTs accepted events to an ingestion endpoint in sub-batches no
// larger than the configured batch size. The endpoint has no duplicate
// suppression of its own, so the sink is not idempotent.
type HTTPSink struct {
	cfg    config.HTTPSinkConfig
	client *http.Client
	url    string
	logger *logrus.Entry
}

// ingestPayload is the batch document posted per sub-batch.
type ingestPayload struct {
	Table string                 `json:"table,omitempty"`
	Count int                    `json:"count"`
	Rows  []types.CanonicalEvent `json:"rows"`
}

// NewHTTPSink creates the sink from its configuration.
func NewHTTPSink(cfg config.HTTPSinkConfig, logger *logrus.Entry) *HTTPSink {
	base := strings.TrimRight(cfg.EndpointBase, "/")
	path := "ingest"
	if cfg.TableName != "" {
		path = cfg.TableName
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPSink{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		url:    base + "/" + path,
		logger: logger,
	}
}

// Name implements Sink.
func (s *HTTPSink) Name() string { return "http" }

// Idempotent implements Sink.
func (s *HTTPSink) Idempotent() bool { return false }

// Write splits the batch per the configured size and posts each sub-batch as
// one JSON document. The first non-2xx response aborts the remaining
// sub-batches.
func (s *HTTPSink) Write(ctx context.Context, batch []types.CanonicalEvent) error {
	size := s.cfg.BatchSize
	if size < 1 {
		size = 200
	}
	for i := 0; i < len(batch); i += size {
		j := i + size
		if j > len(batch) {
			j = len(batch)
		}
		if err := s.post(ctx, batch[i:j]); err != nil {
			return err
		}
	}
	return nil
}

func (s *HTTPSink) post(ctx context.Context, rows []types.CanonicalEvent) error {
	payload := ingestPayload{
		Table: s.cfg.TableName,
		Count: len(rows),
		Rows:  rows,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.BasicUsername != "" || s.cfg.BasicPassword != "" {
		req.SetBasicAuth(s.cfg.BasicUsername, s.cfg.BasicPassword)
	}
	for k, v := range s.cfg.Headers {
		if k != "" && v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ingest request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.WithFields(logrus.Fields{
			"url":   s.url,
			"count": len(rows),
		}).Debug("Sub-batch posted")
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return fmt.Errorf("ingest endpoint returned HTTP %d: %s", resp.StatusCode, string(snippet))
}

// Close implements Sink.
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
