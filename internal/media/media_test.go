package media

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestBuildReelArgs_WithAudio(t *testing.T) {
	args := buildReelArgs("in.mp4", "music.mp3", "out.mp4", DefaultReelOptions())
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-i in.mp4",
		"-i music.mp3",
		"-t 7.500",
		"-map 0:v:0",
		"-map 1:a:0",
		"-shortest",
		"-c:v libx264",
		"-preset ultrafast",
		"-c:a aac",
		"-threads 4",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}

	vf := args[slices.Index(args, "-vf")+1]
	if !strings.Contains(vf, "trunc(ih*9/16/2)*2") || !strings.Contains(vf, "scale=-2:1280") {
		t.Errorf("unexpected filter %q", vf)
	}
	if args[len(args)-1] != "out.mp4" {
		t.Errorf("output path should be last, got %q", args[len(args)-1])
	}
}

func TestBuildReelArgs_WithoutAudioKeepsSourceTrack(t *testing.T) {
	args := buildReelArgs("in.mp4", "", "out.mp4", ReelOptions{MaxDuration: 5 * time.Second})
	joined := strings.Join(args, " ")

	if strings.Contains(joined, "1:a:0") || strings.Contains(joined, "-shortest") {
		t.Errorf("unexpected second input mapping: %s", joined)
	}
	if !strings.Contains(joined, "-map 0:a?") {
		t.Errorf("expected optional source audio mapping: %s", joined)
	}
	if !strings.Contains(joined, "-t 5.000") {
		t.Errorf("expected 5s trim: %s", joined)
	}
	if !strings.Contains(joined, "scale=-2:1280") {
		t.Errorf("expected default height: %s", joined)
	}
}

func TestScanLibrary(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_river.MP4", "a forest.mov", "notes.txt", "c.mkv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.mp4"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := ScanLibrary(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	want := []string{"a forest.mov", "b_river.MP4", "c.mkv"}
	if !slices.Equal(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestScanLibrary_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "videos")

	files, err := ScanLibrary(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files, got %d", len(files))
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("expected directory to be created, err=%v", err)
	}
}

func TestTagsFromName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"misty_forest-river 2.mp4", "misty, forest, river"},
		{"Sunset.mov", "sunset"},
		{"1234.mp4", ""},
		{"clip4k.mkv", "clip4k"},
	}
	for _, tt := range tests {
		if got := TagsFromName(tt.name); got != tt.want {
			t.Errorf("TagsFromName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
