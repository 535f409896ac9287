package coverstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"

	"github.com/disintegration/imaging"
)

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// original is a downloaded cover with its decoded dimensions.
type original struct {
	data   []byte
	format string
	width  int
	height int
}

func fetchOriginal(ctx context.Context, client HTTPDoer, rawURL string, maxSize int64) (original, error) {
	const op = "fetch"

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return original{}, newError(KindInvalidResource, op, fmt.Errorf("invalid url %q", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return original{}, newError(KindInvalidResource, op, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return original{}, newError(KindGeneric, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return original{}, newError(KindNotFound, op, fmt.Errorf("origin returned %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return original{}, newError(KindGeneric, op, fmt.Errorf("origin returned %d", resp.StatusCode))
	}
	if maxSize > 0 && resp.ContentLength > maxSize {
		return original{}, newError(KindTooLarge, op, fmt.Errorf("%d bytes exceeds %d", resp.ContentLength, maxSize))
	}

	reader := io.Reader(resp.Body)
	if maxSize > 0 {
		reader = io.LimitReader(resp.Body, maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return original{}, newError(KindGeneric, op, err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return original{}, newError(KindTooLarge, op, fmt.Errorf("body exceeds %d bytes", maxSize))
	}

	return inspect(data)
}

// inspect decodes the image to learn its format and oriented dimensions.
func inspect(data []byte) (original, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return original{}, newError(KindInvalidResource, "decode", errors.New("not a supported image"))
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return original{}, newError(KindInvalidResource, "decode", err)
	}
	b := img.Bounds()
	return original{data: data, format: format, width: b.Dx(), height: b.Dy()}, nil
}
