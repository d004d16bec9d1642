package utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestObjectName(t *testing.T) {
	testCases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"a.png", "a.png", false},
		{"/uploads/images/a.png", "a.png", false},
		{"https://bucket.example.com/a.png", "a.png", false},
		{"../../etc/passwd", "passwd", false},
		{"..", "", true},
		{"", "", true},
		{`..\x.png`, "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ObjectName(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ObjectName(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ObjectName(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	ls := &LocalStorage{Dir: t.TempDir()}

	url, err := ls.SaveFile(ctx, "pic.png", []byte("data"), "image/png")
	if err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	if url != "/uploads/images/pic.png" {
		t.Errorf("Unexpected URL %q", url)
	}
	if _, err := os.Stat(filepath.Join(ls.Dir, "images", "pic.png")); err != nil {
		t.Fatalf("Saved file missing: %v", err)
	}

	if err := ls.DeleteFile(ctx, url); err != nil {
		t.Fatalf("DeleteFile by URL failed: %v", err)
	}
	if err := ls.DeleteFile(ctx, "pic.png"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist for a missing file, got %v", err)
	}
}

func TestStorageOwns(t *testing.T) {
	ls := &LocalStorage{Dir: t.TempDir()}
	s3 := &S3Storage{PublicURL: "https://bucket.example.com"}
	gs := &GCSStorage{PublicURL: "https://storage.googleapis.com/imgs"}

	testCases := []struct {
		name string
		got  bool
		want bool
	}{
		{"local own", ls.Owns("/uploads/images/a.png"), true},
		{"local external", ls.Owns("https://i.imgur.com/a.png"), false},
		{"s3 own", s3.Owns("https://bucket.example.com/a.png"), true},
		{"s3 lookalike", s3.Owns("https://bucket.example.com.evil/a.png"), false},
		{"gcs own", gs.Owns("https://storage.googleapis.com/imgs/a.png"), true},
		{"gcs other bucket", gs.Owns("https://storage.googleapis.com/other/a.png"), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("Owns = %v, want %v", tc.got, tc.want)
			}
		})
	}
}
