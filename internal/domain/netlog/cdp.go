// Package netlog normalizes captured network logs into request records:
// Chrome DevTools Protocol shaped entries uploaded by collectors, and HAR
// documents for offline imports.
package netlog

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/pagetally/pagetally/internal/domain/audit"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// Record is one normalized captured request.
type Record struct {
	URL          string
	Host         string
	ResourceType model.ResourceType
	TransferSize int64
	StatusCode   *int
	MimeType     *string
}

// Extractor parses collector capture entries. Collectors emit one entry per
// finished request, joined from the CDP Network.* event stream; field
// placement varies by collector version, so a few likely shapes are
// tolerated rather than enforced.
type Extractor struct{}

// NewExtractor creates a new capture entry extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ErrNoRequestURL is returned when an entry carries no usable request URL.
var ErrNoRequestURL = errors.New("capture entry has no request url")

// ParseEntry normalizes one raw capture entry. Keep structs local and small.
func (e *Extractor) ParseEntry(data json.RawMessage) (Record, error) {
	type responseShape struct {
		URL               string   `json:"url"`
		Status            *int     `json:"status"`
		MimeType          string   `json:"mimeType"`
		EncodedDataLength *float64 `json:"encodedDataLength"`
	}
	type entryShape struct {
		URL               string   `json:"url"`
		Type              string   `json:"type"`
		ResourceType      string   `json:"resourceType"`
		MimeType          string   `json:"mimeType"`
		Status            *int     `json:"status"`
		TransferSize      *int64   `json:"transferSize"`
		EncodedDataLength *float64 `json:"encodedDataLength"`
		Request           struct {
			URL string `json:"url"`
		} `json:"request"`
		Response responseShape `json:"response"`
	}

	var p entryShape
	if len(data) == 0 {
		return Record{}, ErrNoRequestURL
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Record{}, err
	}

	// Candidate URL preference: request.url -> url -> response.url
	u := strings.TrimSpace(p.Request.URL)
	if u == "" {
		u = strings.TrimSpace(p.URL)
	}
	if u == "" {
		u = strings.TrimSpace(p.Response.URL)
	}
	if u == "" {
		return Record{}, ErrNoRequestURL
	}

	rec := Record{URL: u}
	if host, ok := audit.HostFromURL(u); ok {
		rec.Host = host
	}

	typeName := p.Type
	if typeName == "" {
		typeName = p.ResourceType
	}
	mime := strings.TrimSpace(p.MimeType)
	if mime == "" {
		mime = strings.TrimSpace(p.Response.MimeType)
	}
	if typeName != "" {
		rec.ResourceType = model.NormalizeResourceType(typeName)
	} else {
		rec.ResourceType = ResourceTypeFromMime(mime)
	}
	if mime != "" {
		rec.MimeType = &mime
	}

	switch {
	case p.TransferSize != nil:
		rec.TransferSize = *p.TransferSize
	case p.EncodedDataLength != nil:
		rec.TransferSize = int64(*p.EncodedDataLength)
	case p.Response.EncodedDataLength != nil:
		rec.TransferSize = int64(*p.Response.EncodedDataLength)
	}
	if rec.TransferSize < 0 {
		rec.TransferSize = 0
	}

	if p.Status != nil {
		rec.StatusCode = p.Status
	} else if p.Response.Status != nil {
		rec.StatusCode = p.Response.Status
	}

	return rec, nil
}

// ParseBatch normalizes a batch of raw entries, skipping the unusable ones.
// It returns the parsed records and the number skipped.
func (e *Extractor) ParseBatch(entries []json.RawMessage) ([]Record, int) {
	records := make([]Record, 0, len(entries))
	skipped := 0
	for _, entry := range entries {
		rec, err := e.ParseEntry(entry)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

// ResourceTypeFromMime infers a resource type from a MIME type, for capture
// sources that do not label requests.
func ResourceTypeFromMime(mime string) model.ResourceType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i > -1 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch {
	case mime == "":
		return model.ResourceTypeOther
	case mime == "text/html" || mime == "application/xhtml+xml":
		return model.ResourceTypeDocument
	case strings.Contains(mime, "javascript") || strings.Contains(mime, "ecmascript"):
		return model.ResourceTypeScript
	case mime == "text/css":
		return model.ResourceTypeStylesheet
	case strings.HasPrefix(mime, "image/"):
		return model.ResourceTypeImage
	case strings.HasPrefix(mime, "font/") || strings.HasPrefix(mime, "application/font") ||
		mime == "application/vnd.ms-fontobject" || strings.HasPrefix(mime, "application/x-font"):
		return model.ResourceTypeFont
	case strings.HasPrefix(mime, "audio/") || strings.HasPrefix(mime, "video/"):
		return model.ResourceTypeMedia
	case mime == "application/json" || strings.HasSuffix(mime, "+json"):
		return model.ResourceTypeXHR
	default:
		return model.ResourceTypeOther
	}
}
