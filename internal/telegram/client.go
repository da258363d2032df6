// Package telegram sends finished reels to a chat through the Telegram Bot
// API sendVideo method.
//
// Reference: https://core.telegram.org/bots/api#sendvideo
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
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

const (
	defaultBaseURL = "https://api.telegram.org"

	// ParseModeHTML enables <b>-style markup in captions.
	ParseModeHTML = "HTML"

	// MaxCaptionLen is the Bot API caption limit in characters.
	MaxCaptionLen = 1024
)

// Client posts videos to one chat.
type Client struct {
	httpClient *http.Client
	token      string
	chatID     string
	baseURL    string
	retry      httpretry.Policy
}

// NewClient creates a Telegram bot client bound to chatID.
func NewClient(token, chatID string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		token:      token,
		chatID:     chatID,
		baseURL:    defaultBaseURL,
		retry:      httpretry.DefaultPolicy(),
	}
}

// VideoMessage is one sendVideo call.
type VideoMessage struct {
	Path      string
	Caption   string
	ParseMode string
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendVideo uploads msg.Path to the chat and returns the message ID.
func (c *Client) SendVideo(ctx context.Context, msg VideoMessage) (int64, error) {
	caption := msg.Caption
	if r := []rune(caption); len(r) > MaxCaptionLen {
		caption = string(r[:MaxCaptionLen])
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendVideo", c.baseURL, c.token)

	start := time.Now()
	resp, err := httpretry.Do(ctx, c.httpClient, c.retry, func(ctx context.Context) (*http.Request, error) {
		fields := map[string]string{
			"chat_id":            c.chatID,
			"caption":            caption,
			"parse_mode":         msg.ParseMode,
			"supports_streaming": "true",
		}
		body, contentType, err := videoForm(fields, msg.Path)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return 0, fmt.Errorf("telegram sendVideo: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("telegram sendVideo: read response: %w", err)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = truncate(string(raw), 200)
		}
		return 0, fmt.Errorf("telegram sendVideo: %w", &httpretry.StatusError{
			Service:    "telegram",
			StatusCode: resp.StatusCode,
			Body:       desc,
		})
	}

	log.Info().
		Int64("messageId", out.Result.MessageID).
		Str("chatId", c.chatID).
		Dur("elapsed", time.Since(start)).
		Msg("Reel sent to Telegram")
	return out.Result.MessageID, nil
}

func videoForm(fields map[string]string, path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("video", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read video: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// ist is India Standard Time; the channel audience reads timestamps in it.
var ist = time.FixedZone("IST", 5*3600+30*60)

// TimestampCaption renders t as a bold IST stamp such as
// "<b>18 OCT 09:30:00 PM 2026</b>".
func TimestampCaption(t time.Time) string {
	return "<b>" + strings.ToUpper(t.In(ist).Format("02 Jan 03:04:05 PM 2006")) + "</b>"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
