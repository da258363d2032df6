package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/nature-reels/internal/httpretry"
)

const catboxEndpoint = "https://catbox.moe/user/api.php"

// Catbox uploads anonymously to catbox.moe. The response body is the
// public file URL.
type Catbox struct {
	httpClient *http.Client
	endpoint   string
	retry      httpretry.Policy
}

// NewCatbox creates a catbox.moe uploader.
func NewCatbox() *Catbox {
	return &Catbox{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		endpoint:   catboxEndpoint,
		retry:      httpretry.DefaultPolicy(),
	}
}

// Upload posts localPath as the fileToUpload form field.
func (c *Catbox) Upload(ctx context.Context, localPath string) (string, error) {
	start := time.Now()
	resp, err := httpretry.Do(ctx, c.httpClient, c.retry, func(ctx context.Context) (*http.Request, error) {
		body, contentType, err := catboxForm(localPath)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("catbox upload: %w", err)
	}
	defer resp.Body.Close()

	if err := httpretry.CheckStatus(resp, "catbox"); err != nil {
		return "", fmt.Errorf("catbox upload: %w", err)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("catbox upload: read response: %w", err)
	}
	link := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(link, "http") {
		return "", fmt.Errorf("catbox upload: unexpected response %q", link)
	}

	log.Info().Str("url", link).Dur("elapsed", time.Since(start)).Msg("Reel uploaded to catbox")
	return link, nil
}

// catboxForm builds the multipart body in memory; reels are a few MB.
func catboxForm(localPath string) (io.Reader, string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, "", fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("reqtype", "fileupload"); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("fileToUpload", filepath.Base(localPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read upload file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
