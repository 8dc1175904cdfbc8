package notify

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
)

// previewHeaderSize is the event-type and image-format prefix of a binary frame.
const previewHeaderSize = 8

var (
	ErrPreviewTooSmall     = errors.New("preview frame too small to contain media")
	ErrUnknownPreviewMedia = errors.New("could not detect preview media type")
)

// Preview is a decoded binary preview frame.
type Preview struct {
	Event  uint32 `json:"event"`
	Format uint32 `json:"format"`
	MIME   string `json:"mime"`
	Data   []byte `json:"-"`
}

// DataURL renders the preview for direct use as an image or video source.
func (p Preview) DataURL() string {
	return "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// IsVisual reports whether the preview can be shown as an image or video.
func (p Preview) IsVisual() bool {
	return strings.HasPrefix(p.MIME, "image/") || strings.HasPrefix(p.MIME, "video/")
}

var mediaSignatures = []struct {
	prefix []byte
	mime   string
}{
	{[]byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
	{[]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
	{[]byte{0x47, 0x49, 0x46, 0x38}, "image/gif"},
	{[]byte{0x42, 0x4D}, "image/bmp"},
	{[]byte{0x52, 0x49, 0x46, 0x46}, "audio/wav"},
	{[]byte{0x00, 0x00, 0x00, 0x18}, "video/mp4"},
	{[]byte{0x00, 0x00, 0x00, 0x20}, "video/mp4"},
	{[]byte{0x66, 0x74, 0x79, 0x70}, "video/mp4"},
}

// DecodePreview strips the frame header and sniffs the media type of the payload.
func DecodePreview(frame []byte) (Preview, error) {
	if len(frame) <= previewHeaderSize {
		return Preview{}, ErrPreviewTooSmall
	}
	p := Preview{
		Event:  binary.BigEndian.Uint32(frame[0:4]),
		Format: binary.BigEndian.Uint32(frame[4:8]),
		Data:   frame[previewHeaderSize:],
	}
	for _, sig := range mediaSignatures {
		if bytes.HasPrefix(p.Data, sig.prefix) {
			p.MIME = sig.mime
			return p, nil
		}
	}
	return Preview{}, ErrUnknownPreviewMedia
}
