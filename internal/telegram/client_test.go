package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/nature-reels/internal/httpretry"
)

func newTestClient(server *httptest.Server) *Client {
	return &Client{
		httpClient: server.Client(),
		token:      "123:ABC",
		chatID:     "-10042",
		baseURL:    server.URL,
		retry:      httpretry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond},
	}
}

func writeVideo(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "final.mp4")
	if err := os.WriteFile(p, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSendVideo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:ABC/sendVideo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.FormValue("chat_id"); got != "-10042" {
			t.Errorf("expected chat_id -10042, got %q", got)
		}
		if got := r.FormValue("caption"); got != "<b>hi</b>" {
			t.Errorf("unexpected caption %q", got)
		}
		if got := r.FormValue("parse_mode"); got != ParseModeHTML {
			t.Errorf("unexpected parse_mode %q", got)
		}
		f, _, err := r.FormFile("video")
		if err != nil {
			t.Fatalf("missing video: %v", err)
		}
		data, _ := io.ReadAll(f)
		f.Close()
		if string(data) != "video" {
			t.Errorf("unexpected video body %q", data)
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":77}}`))
	}))
	defer server.Close()

	id, err := newTestClient(server).SendVideo(context.Background(), VideoMessage{
		Path:      writeVideo(t),
		Caption:   "<b>hi</b>",
		ParseMode: ParseModeHTML,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 77 {
		t.Errorf("expected message id 77, got %d", id)
	}
}

func TestSendVideo_PlainCaptionOmitsParseMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		if _, ok := r.MultipartForm.Value["parse_mode"]; ok {
			t.Error("parse_mode should be omitted")
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server).SendVideo(context.Background(), VideoMessage{Path: writeVideo(t), Caption: "Nature"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendVideo_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).SendVideo(context.Background(), VideoMessage{Path: writeVideo(t)})
	if !httpretry.IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("expected description in error, got %v", err)
	}
	if strings.Contains(err.Error(), "123:ABC") {
		t.Errorf("error leaks bot token: %v", err)
	}
}

func TestTimestampCaption(t *testing.T) {
	// 16:00 UTC is 21:30 IST.
	ts := time.Date(2026, 10, 18, 16, 0, 0, 0, time.UTC)
	if got, want := TimestampCaption(ts), "<b>18 OCT 09:30:00 PM 2026</b>"; got != want {
		t.Errorf("TimestampCaption = %q, want %q", got, want)
	}

	// Crossing midnight in IST moves the date forward.
	ts = time.Date(2026, 12, 31, 19, 45, 5, 0, time.UTC)
	if got, want := TimestampCaption(ts), "<b>01 JAN 01:15:05 AM 2027</b>"; got != want {
		t.Errorf("TimestampCaption = %q, want %q", got, want)
	}
}
