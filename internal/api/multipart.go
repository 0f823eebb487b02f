package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"tourgraph/internal/tour"
)

// maxImageBytes caps panorama uploads at 2 MiB.
const maxImageBytes = 2 << 20

const imageFormField = "image"

var allowedImageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// decodeImageUpload extracts and validates the panorama image from a
// multipart request. Only JPEG and PNG payloads up to 2 MiB are accepted.
func decodeImageUpload(w http.ResponseWriter, r *http.Request) (tour.ImageInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+4096)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return tour.ImageInput{}, fmt.Errorf("image exceeds the %d byte limit", maxImageBytes)
		}
		return tour.ImageInput{}, fmt.Errorf("parse multipart form: %w", err)
	}

	file, header, err := r.FormFile(imageFormField)
	if err != nil {
		return tour.ImageInput{}, fmt.Errorf("image file is required")
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType, ok := allowedImageTypes[ext]
	if !ok {
		return tour.ImageInput{}, fmt.Errorf("unsupported image type %q, expected jpg, jpeg, or png", ext)
	}

	payload, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return tour.ImageInput{}, fmt.Errorf("read image payload: %w", err)
	}
	if len(payload) == 0 {
		return tour.ImageInput{}, fmt.Errorf("image payload is empty")
	}
	if len(payload) > maxImageBytes {
		return tour.ImageInput{}, fmt.Errorf("image exceeds the %d byte limit", maxImageBytes)
	}
	if sniffed := http.DetectContentType(payload); !strings.HasPrefix(sniffed, "image/") {
		return tour.ImageInput{}, fmt.Errorf("payload is not an image")
	}

	return tour.ImageInput{
		Bytes:       payload,
		Filename:    header.Filename,
		ContentType: contentType,
	}, nil
}
