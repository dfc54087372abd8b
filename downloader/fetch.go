package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hazyhaar/dhtrack/archive"
)

// fetcher performs the outbound HTTP work and classifies each attempt into
// a terminal DownloadOutcome.
type fetcher struct {
	client *http.Client
	config Config
}

func newFetcher(cfg Config) *fetcher {
	return &fetcher{
		config: cfg,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
	}
}

// fetch downloads one URL and classifies the result:
//
//	2xx with bytes       → Success (blob, size, content type)
//	size cap exceeded    → Skipped (no blob)
//	non-2xx              → encoded HTTP status
//	transport error      → GenericError
//
// A nil return means the engine's own shutdown interrupted the attempt and
// no outcome should be recorded.
func (f *fetcher) fetch(ctx context.Context, url string) *archive.DownloadOutcome {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return &archive.DownloadOutcome{Status: archive.StatusGenericError}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		// Timeouts and transport failures alike.
		return &archive.DownloadOutcome{Status: archive.StatusGenericError}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &archive.DownloadOutcome{Status: archive.HTTPStatus(resp.StatusCode)}
	}

	limit := f.config.MaxBytes
	if limit > 0 && resp.ContentLength > limit {
		return &archive.DownloadOutcome{Status: archive.StatusSkipped}
	}

	var body []byte
	if limit > 0 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err == nil && int64(len(body)) > limit {
			return &archive.DownloadOutcome{Status: archive.StatusSkipped}
		}
	} else {
		body, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &archive.DownloadOutcome{Status: archive.StatusGenericError}
	}

	size := int64(len(body))
	outcome := &archive.DownloadOutcome{
		Status: archive.StatusSuccess,
		Size:   &size,
		Blob:   body,
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		outcome.Type = &ct
	}
	return outcome
}
