package bench

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ModelsURL derives the model listing endpoint from a chat completions URL,
// e.g. http://host:8000/v1/chat/completions -> http://host:8000/v1/models.
func ModelsURL(apiURL string) string {
	for _, suffix := range endpointSuffixes {
		if strings.HasSuffix(apiURL, suffix) {
			return strings.TrimSuffix(apiURL, suffix) + "models"
		}
	}
	return apiURL
}

// WaitForEndpoint polls the server behind apiURL with exponential backoff
// until it answers with a non-5xx status or maxWait elapses.
func WaitForEndpoint(ctx context.Context, client *http.Client, apiURL string, maxWait time.Duration, log logrus.FieldLogger) error {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	url := ModelsURL(apiURL)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = maxWait

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			log.WithFields(logrus.Fields{"url": url, "attempt": attempt}).Debug("endpoint not reachable yet")
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("endpoint returned %s", resp.Status)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("endpoint %s not ready after %s: %w", url, maxWait, err)
	}
	log.WithFields(logrus.Fields{"url": url, "attempts": attempt}).Info("endpoint ready")
	return nil
}
