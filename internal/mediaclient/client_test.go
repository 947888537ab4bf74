package mediaclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pigeon-im/pigeon/internal/store"
	"go.uber.org/zap"
)

func TestUploadReturnsAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(MaxFileSize); err != nil {
			t.Fatal(err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatal(err)
		}
		defer file.Close()
		if header.Filename != "cat.png" {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example.com/cat.png"})
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	att, err := c.Upload(context.Background(), "cat.png", 9, strings.NewReader("gif-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if att.URL != "https://cdn.example.com/cat.png" || att.Name != "cat.png" || att.Size != 9 {
		t.Errorf("attachment = %+v", att)
	}
}

func TestUploadEnforcesSizeCap(t *testing.T) {
	c := New("http://unused.invalid", zap.NewNop())

	if _, err := c.Upload(context.Background(), "big.bin", MaxFileSize+1, strings.NewReader("")); err != ErrFileTooLarge {
		t.Errorf("oversize: err = %v, want ErrFileTooLarge", err)
	}
	if _, err := c.Upload(context.Background(), "empty.bin", 0, strings.NewReader("")); err != ErrEmptyFile {
		t.Errorf("empty: err = %v, want ErrEmptyFile", err)
	}
}

func TestUploadSurfacesServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "storage unavailable"})
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	if _, err := c.Upload(context.Background(), "x.txt", 1, strings.NewReader("x")); err == nil {
		t.Error("server rejection should surface as an error")
	}
}

func TestUploadFileReadsFromDisk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example.com/note.txt"})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := New(srv.URL, zap.NewNop())
	att, err := c.UploadFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if att.Name != "note.txt" || att.Size != 5 {
		t.Errorf("attachment = %+v", att)
	}
}

func TestKindForFile(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"cat.png", store.KindImage},
		{"clip.JPG", store.KindImage},
		{"movie.mp4", store.KindVideo},
		{"report.pdf", store.KindFile},
		{"noext", store.KindFile},
	}
	for _, tc := range cases {
		if got := KindForFile(tc.name); got != tc.want {
			t.Errorf("KindForFile(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
