package utils

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxImageBytes bounds uploads and fetched backgrounds when no limit is configured.
const DefaultMaxImageBytes int64 = 20 << 20

// ReadError - a local image could not be read or is not a decodable image
type ReadError struct {
	Name string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read image %s: %v", e.Name, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// FetchError - the remote request did not complete successfully
type FetchError struct {
	URL        string
	StatusCode int // 0 when the transport failed before a response
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// InvalidContentError - the remote resource is not an image
type InvalidContentError struct {
	URL         string
	ContentType string
}

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("resource at %s is not an image (content-type %q)", e.URL, e.ContentType)
}

// EncodeLocalFile - read a local image file fully into memory
func EncodeLocalFile(path string) (*EncodedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Name: path, Err: err}
	}
	defer f.Close()

	return EncodeReader(f, filepath.Base(path), DefaultMaxImageBytes)
}

// EncodeReader - read an image stream (e.g. a multipart upload) into an EncodedImage.
// The media type is sniffed from the content, never trusted from the client.
func EncodeReader(r io.Reader, filename string, maxBytes int64) (*EncodedImage, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, &ReadError{Name: filename, Err: err}
	}
	if int64(len(data)) > maxBytes {
		return nil, &ReadError{Name: filename, Err: fmt.Errorf("image exceeds %d bytes", maxBytes)}
	}
	if len(data) == 0 {
		return nil, &ReadError{Name: filename, Err: fmt.Errorf("empty file")}
	}

	mediaType := mimetype.Detect(data).String()
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, &ReadError{Name: filename, Err: fmt.Errorf("unsupported content type %s", mediaType)}
	}
	if err := verifyContainer(data); err != nil {
		return nil, &ReadError{Name: filename, Err: err}
	}

	return &EncodedImage{Data: data, MediaType: mediaType, Filename: filename}, nil
}

// verifyContainer - make sure the bytes parse as an image header
func verifyContainer(data []byte) error {
	if isWebP(data) {
		return nil
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("invalid image container: %w", err)
	}
	return nil
}

// Fetcher - downloads remote background images
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher - fetcher with its own timeout-bound HTTP client
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// NewFetcherWithClient - fetcher over a caller-supplied client
func NewFetcherWithClient(client *http.Client, maxBytes int64) *Fetcher {
	return &Fetcher{client: client, maxBytes: maxBytes}
}

// EncodeFromURL - GET the URL and return the image with its declared media type
func (f *Fetcher) EncodeFromURL(ctx context.Context, rawURL string) (*EncodedImage, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("unsupported URL")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return nil, &InvalidContentError{URL: rawURL, ContentType: contentType}
	}

	maxBytes := f.maxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if int64(len(data)) > maxBytes {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("image exceeds %d bytes", maxBytes)}
	}

	return &EncodedImage{Data: data, MediaType: mediaType}, nil
}
