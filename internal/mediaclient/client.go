// Package mediaclient uploads attachment files to the media storage
// service. Upload is the prerequisite of sending a media message: the
// returned URL is what travels in the message's attachment.
package mediaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pigeon-im/pigeon/internal/store"
	"go.uber.org/zap"
)

// MaxFileSize mirrors the server-side upload cap.
const MaxFileSize = 5_000_000

const uploadTimeout = 60 * time.Second

var (
	ErrFileTooLarge = errors.New("mediaclient: file exceeds 5 MB limit")
	ErrEmptyFile    = errors.New("mediaclient: file is empty")
)

type Client struct {
	uploadURL string
	http      *http.Client
	logger    *zap.Logger
}

func New(uploadURL string, logger *zap.Logger) *Client {
	return &Client{
		uploadURL: uploadURL,
		http:      &http.Client{Timeout: uploadTimeout},
		logger:    logger.Named("media"),
	}
}

type uploadResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// UploadFile reads a local file and uploads it, returning the attachment
// to embed in the outgoing message.
func (c *Client) UploadFile(ctx context.Context, path string) (*store.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("mediaclient: %w", err)
	}
	if info.Size() == 0 {
		return nil, ErrEmptyFile
	}
	if info.Size() > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mediaclient: %w", err)
	}
	defer f.Close()
	return c.Upload(ctx, filepath.Base(path), info.Size(), f)
}

// Upload streams name/size/content as a multipart form and returns the
// stored attachment.
func (c *Client) Upload(ctx context.Context, name string, size int64, r io.Reader) (*store.Attachment, error) {
	if size <= 0 {
		return nil, ErrEmptyFile
	}
	if size > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("mediaclient: build form: %w", err)
	}
	if _, err := io.Copy(part, io.LimitReader(r, MaxFileSize+1)); err != nil {
		return nil, fmt.Errorf("mediaclient: read file: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("mediaclient: finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &body)
	if err != nil {
		return nil, fmt.Errorf("mediaclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mediaclient: upload: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("mediaclient: read response: %w", err)
	}
	var parsed uploadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("mediaclient: decode response (%d): %w", res.StatusCode, err)
	}
	if res.StatusCode != http.StatusOK || parsed.URL == "" {
		return nil, fmt.Errorf("mediaclient: upload rejected (%d): %s", res.StatusCode, parsed.Error)
	}

	c.logger.Info("file uploaded", zap.String("name", name), zap.Int64("size", size))
	return &store.Attachment{URL: parsed.URL, Name: name, Size: size}, nil
}

// KindForFile maps a filename to the message kind its attachment travels
// under, by MIME sniffing on the extension.
func KindForFile(name string) string {
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return store.KindImage
	case strings.HasPrefix(mt, "video/"):
		return store.KindVideo
	default:
		return store.KindFile
	}
}
