// Package webhook notifies a downstream automation (Make, Zapier, n8n, a
// custom endpoint) that a reel has been published.
//
// The payload is a JSON object POSTed to the configured URL. When a secret
// is configured the body is signed like Meta platform webhooks:
//
//	X-Hub-Signature-256: sha256=<hex-encoded HMAC-SHA256 of the body>
//
// so the receiver can authenticate the call with the same check Meta
// receivers already implement (see VerifySignature).
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/nature-reels/internal/httpretry"
)

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// Payload is the notification body. Stock runs fill VideoURL and Caption;
// library runs fill every field.
type Payload struct {
	VideoURL         string `json:"video_url"`
	Title            string `json:"title,omitempty"`
	Caption          string `json:"caption"`
	Hashtags         string `json:"hashtags,omitempty"`
	InstaHashtags    string `json:"insta_hashtags,omitempty"`
	YoutubeHashtags  string `json:"youtube_hashtags,omitempty"`
	FacebookHashtags string `json:"facebook_hashtags,omitempty"`
	Source           string `json:"source,omitempty"`
	RunID            string `json:"run_id,omitempty"`
}

// Sender posts payloads to one webhook URL.
type Sender struct {
	httpClient *http.Client
	url        string
	secret     string
	retry      httpretry.Policy
}

// NewSender creates a webhook sender. secret may be empty to send unsigned.
func NewSender(webhookURL, secret string) *Sender {
	return &Sender{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        webhookURL,
		secret:     secret,
		retry:      httpretry.DefaultPolicy(),
	}
}

// Send delivers p. Any 2xx response counts as delivered.
func (s *Sender) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	resp, err := httpretry.Do(ctx, s.httpClient, s.retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if s.secret != "" {
			req.Header.Set(SignatureHeader, Sign(s.secret, body))
		}
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	if err := httpretry.CheckStatus(resp, "webhook"); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	host := s.url
	if u, err := url.Parse(s.url); err == nil {
		host = u.Host
	}
	log.Info().
		Str("host", host).
		Int("statusCode", resp.StatusCode).
		Bool("signed", s.secret != "").
		Str("videoUrl", p.VideoURL).
		Msg("Webhook delivered")
	return nil
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature validates an X-Hub-Signature-256 header value against
// the HMAC-SHA256 of body, in constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	if len(header) <= len(signaturePrefix) || header[:len(signaturePrefix)] != signaturePrefix {
		return false
	}

	receivedBytes, err := hex.DecodeString(header[len(signaturePrefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(receivedBytes, mac.Sum(nil))
}
