// Package imagesource turns user-selected files into image payloads and
// manages the preview handle that goes with the current selection.
package imagesource

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/example/dust-check/internal/apperrors"
)

const genericMediaType = "application/octet-stream"

// File is a raw user selection as received from the display surface.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ImagePayload is a validated image ready for upload.
type ImagePayload struct {
	Data      []byte
	MediaType string
	Filename  string
	Size      int64
	SHA1      string
}

// Source holds the current payload and its preview. It is owned by a single
// workflow and is not safe for concurrent use on its own.
type Source struct {
	previews *Previews
	maxSize  int64

	payload *ImagePayload
	preview *PreviewHandle
}

// NewSource creates a source allocating handles from previews. A maxSize of
// zero disables the size limit.
func NewSource(previews *Previews, maxSize int64) *Source {
	return &Source{previews: previews, maxSize: maxSize}
}

// Select validates file and makes it the current payload, releasing the
// previous preview before allocating a new one. On error the current
// selection is left untouched.
func (s *Source) Select(file *File) (ImagePayload, error) {
	payload, err := s.validate(file)
	if err != nil {
		return ImagePayload{}, err
	}

	s.releasePreview()
	handle := s.previews.Allocate()
	s.payload = &payload
	s.preview = &handle
	return payload, nil
}

// Reset clears the payload and releases its preview. It is idempotent.
func (s *Source) Reset() {
	s.releasePreview()
	s.payload = nil
}

// Current returns the selected payload, if any.
func (s *Source) Current() (ImagePayload, bool) {
	if s.payload == nil {
		return ImagePayload{}, false
	}
	return *s.payload, true
}

// Preview returns the live preview handle, if any.
func (s *Source) Preview() (PreviewHandle, bool) {
	if s.preview == nil {
		return PreviewHandle{}, false
	}
	return *s.preview, true
}

func (s *Source) releasePreview() {
	if s.preview != nil {
		s.previews.Release(*s.preview)
		s.preview = nil
	}
}

func (s *Source) validate(file *File) (ImagePayload, error) {
	if file == nil || len(file.Data) == 0 {
		return ImagePayload{}, apperrors.NewValidationError("No file selected", nil)
	}
	if s.maxSize > 0 && int64(len(file.Data)) > s.maxSize {
		return ImagePayload{}, apperrors.NewValidationError(
			fmt.Sprintf("File exceeds the %d MB upload limit", s.maxSize/(1024*1024)), nil)
	}

	mediaType := normalizeMediaType(file.ContentType)
	if mediaType == "" || mediaType == genericMediaType {
		mediaType = normalizeMediaType(mimetype.Detect(file.Data).String())
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return ImagePayload{}, apperrors.NewValidationError("Please select an image file", nil)
	}

	sum := sha1.Sum(file.Data)
	data := make([]byte, len(file.Data))
	copy(data, file.Data)
	return ImagePayload{
		Data:      data,
		MediaType: mediaType,
		Filename:  file.Name,
		Size:      int64(len(data)),
		SHA1:      hex.EncodeToString(sum[:]),
	}, nil
}

// normalizeMediaType lowercases the type and strips parameters such as charset.
func normalizeMediaType(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}
