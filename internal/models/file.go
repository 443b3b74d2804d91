package models

import "fmt"

// FileKind names the platform media type a record was uploaded as.
type FileKind string

const (
	KindDocument FileKind = "document"
	KindVideo    FileKind = "video"
	KindAudio    FileKind = "audio"
	KindPhoto    FileKind = "photo"
)

// ParseFileKind validates a stored or inbound kind.
func ParseFileKind(s string) (FileKind, error) {
	switch k := FileKind(s); k {
	case KindDocument, KindVideo, KindAudio, KindPhoto:
		return k, nil
	default:
		return "", fmt.Errorf("unknown file kind %q", s)
	}
}

// FileRecord maps a retrieval code to a platform file reference.
type FileRecord struct {
	ID        int64    `json:"id"`
	Code      string   `json:"code"`
	FileRef   string   `json:"file_id"`
	Kind      FileKind `json:"file_type"`
	Caption   string   `json:"caption"`
	CreatedAt int64    `json:"created_at"` // unix milliseconds
	Views     int64    `json:"views"`
}
