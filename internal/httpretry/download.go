package httpretry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Download GETs rawURL into destPath and returns the number of bytes
// written. A partial file is removed on failure. client should not carry
// an overall timeout for large media; ctx bounds the transfer.
func Download(ctx context.Context, client *http.Client, policy Policy, service, rawURL, destPath string) (int64, error) {
	resp, err := Do(ctx, client, policy, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", service, err)
	}
	defer resp.Body.Close()

	if err := CheckStatus(resp, service); err != nil {
		return 0, err
	}

	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("%s: create %s: %w", service, destPath, err)
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return 0, fmt.Errorf("%s: write %s: %w", service, destPath, err)
	}
	return n, nil
}
