// Package attach extracts attachment records from the heterogeneous payload
// shapes the backend delivers them in.
package attach

import (
	"strings"
	"time"

	"coachchat/internal/wire"
)

// Attachment is the canonical record for a file or media item. Exactly one
// of Data (inline base64) or URL should be set.
type Attachment struct {
	ID        string
	Name      string
	MimeType  string
	SizeBytes int64
	CreatedAt time.Time
	Data      string
	URL       string
}

var singularKeys = []string{"file", "archivo", "adjunto", "audio"}
var pluralKeys = []string{"files", "archivos", "adjuntos"}

// Normalize extracts zero or more attachments from a payload. Probing order:
// a singular file field, a plural files field, the same two under one level
// of data/payload nesting, and finally the payload itself if it structurally
// resembles a file record. Returns nil when nothing file-like is found so
// callers can tell "no attachment" from "attachment with zero entries".
func Normalize(payload map[string]any) []Attachment {
	if payload == nil {
		return nil
	}

	var found []Attachment
	seen := make(map[string]bool)

	collect := func(candidates []Attachment) {
		for _, a := range candidates {
			if a.ID != "" && seen[a.ID] {
				continue
			}
			if a.ID != "" {
				seen[a.ID] = true
			}
			found = append(found, a)
		}
	}

	for _, scope := range []map[string]any{payload, wire.Unwrap(payload)} {
		for _, key := range singularKeys {
			if entry, ok := scope[key].(map[string]any); ok {
				if a, ok := decodeRecord(entry); ok {
					collect([]Attachment{a})
				}
			}
		}
		for _, key := range pluralKeys {
			if list, ok := scope[key].([]any); ok {
				collect(decodeRecords(list))
			}
		}
	}

	if found == nil {
		if a, ok := decodeRecord(payload); ok {
			collect([]Attachment{a})
		}
	}
	return found
}

func decodeRecords(list []any) []Attachment {
	var out []Attachment
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if a, ok := decodeRecord(entry); ok {
			out = append(out, a)
		}
	}
	return out
}

// decodeRecord accepts a map as a file record when it carries at least a
// name-like, mime-like, or content-like field.
func decodeRecord(entry map[string]any) (Attachment, bool) {
	a := Attachment{
		ID:        field(entry, "id", "id_archivo", "_id", "file_id"),
		Name:      field(entry, "nombre", "name", "filename", "nombre_archivo"),
		MimeType:  field(entry, "mime", "mime_type", "tipo_mime", "content_type"),
		Data:      field(entry, "base64", "data_base64", "contenido_base64"),
		URL:       field(entry, "url", "enlace", "download_url"),
		SizeBytes: sizeField(entry, "tamano", "size", "size_bytes", "bytes"),
		CreatedAt: wire.ParseTimestamp(entry["fecha"], entry["created_at"]),
	}
	if a.Name == "" && a.MimeType == "" && a.Data == "" && a.URL == "" {
		return Attachment{}, false
	}
	return a, true
}

// Category buckets a mime type for shape matching. Server-side renames make
// filenames useless for matching, so shape comparison works on categories.
func Category(mimeType string) string {
	lower := strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(lower, "image/"):
		return "image"
	case strings.HasPrefix(lower, "audio/"):
		return "audio"
	case strings.HasPrefix(lower, "video/"):
		return "video"
	case lower == "":
		return "unknown"
	default:
		return "document"
	}
}

func field(entry map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := entry[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func sizeField(entry map[string]any, keys ...string) int64 {
	for _, key := range keys {
		if v, ok := entry[key].(float64); ok && v > 0 {
			return int64(v)
		}
	}
	return 0
}
