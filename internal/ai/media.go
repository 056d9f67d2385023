package ai

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

var ErrUnsupportedMedia = errors.New("unsupported media type")

// Media is a decoded media reference.
type Media struct {
	MIME string
	Data []byte
}

// DataURL re-encodes the media as a data: URL.
func (m Media) DataURL() string {
	return "data:" + m.MIME + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}

// ParseMediaRef accepts a raw base64 payload or a data:<mime>;base64,<payload>
// URL. fallbackMIME is used when the reference does not carry a type.
func ParseMediaRef(ref, fallbackMIME string) (Media, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Media{}, errors.New("empty media reference")
	}
	mimeType := fallbackMIME
	payload := ref
	if strings.HasPrefix(ref, "data:") {
		header, data, ok := strings.Cut(ref, ",")
		if !ok {
			return Media{}, errors.New("malformed data URL")
		}
		header = strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(header, ";base64") {
			return Media{}, errors.New("data URL must be base64 encoded")
		}
		if mt := strings.TrimSuffix(header, ";base64"); mt != "" {
			mimeType = mt
		}
		payload = data
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return Media{}, fmt.Errorf("invalid base64 payload: %w", err)
		}
	}
	if len(raw) == 0 {
		return Media{}, errors.New("empty media payload")
	}
	return Media{MIME: strings.ToLower(mimeType), Data: raw}, nil
}

var textLikeTypes = map[string]bool{
	"application/json":   true,
	"application/xml":    true,
	"application/x-yaml": true,
	"application/yaml":   true,
	"text/csv":           true,
	"text/markdown":      true,
}

// IsTextLike reports whether content of this type can be inlined into a prompt.
func IsTextLike(mimeType string) bool {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = mimeType
	}
	return strings.HasPrefix(mt, "text/") || textLikeTypes[mt]
}

// mimeFromFilename guesses a content type from the file extension.
func mimeFromFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".txt", ".log":
		return "text/plain"
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
