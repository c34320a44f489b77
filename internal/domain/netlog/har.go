package netlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pagetally/pagetally/internal/domain/audit"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// HAR 1.2 document, trimmed to the fields an import needs. Chrome exports
// annotate entries with the non-standard _resourceType and _transferSize
// extensions; both are used when present.
type HAR struct {
	Log HARLog `json:"log"`
}

// HARLog is the root of the exported archive.
type HARLog struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Pages   []HARPage  `json:"pages,omitempty"`
	Entries []HAREntry `json:"entries"`
}

// HARCreator identifies the exporting application.
type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HARPage is one captured page load.
type HARPage struct {
	Start string `json:"startedDateTime"`
	ID    string `json:"id"`
	Title string `json:"title"`
}

// HAREntry is one captured request/response pair.
type HAREntry struct {
	PageRef      string      `json:"pageref,omitempty"`
	Start        string      `json:"startedDateTime"`
	Time         float64     `json:"time"`
	Request      HARRequest  `json:"request"`
	Response     HARResponse `json:"response"`
	ResourceType string      `json:"_resourceType,omitempty"`
}

// HARRequest is the request half of an entry.
type HARRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// HARResponse is the response half of an entry.
type HARResponse struct {
	Status       int        `json:"status"`
	Content      HARContent `json:"content"`
	RedirectURL  string     `json:"redirectURL,omitempty"`
	HeadersSize  int64      `json:"headersSize"`
	BodySize     int64      `json:"bodySize"`
	TransferSize *int64     `json:"_transferSize,omitempty"`
}

// HARContent describes the decoded response body.
type HARContent struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Import is the normalized result of parsing a HAR document.
type Import struct {
	FinalURL  string
	Title     string
	StartedAt *time.Time
	Records   []Record
	Skipped   int
}

// ErrEmptyHAR is returned for documents with no entries.
var ErrEmptyHAR = errors.New("har document has no entries")

// ParseHAR parses an exported HAR document into normalized records. Entries
// without a request URL are skipped and counted.
func ParseHAR(data []byte) (*Import, error) {
	var doc HAR
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse har: %w", err)
	}
	if len(doc.Log.Entries) == 0 {
		return nil, ErrEmptyHAR
	}

	imp := &Import{Records: make([]Record, 0, len(doc.Log.Entries))}

	var pageID string
	if len(doc.Log.Pages) > 0 {
		page := doc.Log.Pages[0]
		pageID = page.ID
		imp.Title = page.Title
		if ts, err := time.Parse(time.RFC3339, page.Start); err == nil {
			imp.StartedAt = &ts
		}
	}

	for _, entry := range doc.Log.Entries {
		if pageID != "" && entry.PageRef != "" && entry.PageRef != pageID {
			continue
		}
		rec, ok := harRecord(entry)
		if !ok {
			imp.Skipped++
			continue
		}
		imp.Records = append(imp.Records, rec)
		// Redirect chains leave several document entries; the last one is
		// the landing URL.
		if rec.ResourceType == model.ResourceTypeDocument {
			imp.FinalURL = rec.URL
		}
	}
	if imp.FinalURL == "" && len(imp.Records) > 0 {
		imp.FinalURL = imp.Records[0].URL
	}
	if imp.StartedAt == nil && len(doc.Log.Entries) > 0 {
		if ts, err := time.Parse(time.RFC3339, doc.Log.Entries[0].Start); err == nil {
			imp.StartedAt = &ts
		}
	}
	return imp, nil
}

func harRecord(entry HAREntry) (Record, bool) {
	u := strings.TrimSpace(entry.Request.URL)
	if u == "" {
		return Record{}, false
	}

	rec := Record{URL: u, TransferSize: harTransferSize(entry.Response)}
	if host, ok := audit.HostFromURL(u); ok {
		rec.Host = host
	}

	if entry.ResourceType != "" {
		rec.ResourceType = model.NormalizeResourceType(entry.ResourceType)
	} else {
		rec.ResourceType = ResourceTypeFromMime(entry.Response.Content.MimeType)
	}

	if mime := strings.TrimSpace(entry.Response.Content.MimeType); mime != "" {
		rec.MimeType = &mime
	}
	if entry.Response.Status > 0 {
		status := entry.Response.Status
		rec.StatusCode = &status
	}
	return rec, true
}

// harTransferSize picks the on-wire size: the Chrome extension field when
// present, otherwise body plus headers, otherwise the decoded content size.
// Exporters use -1 for unknown sizes.
func harTransferSize(resp HARResponse) int64 {
	if resp.TransferSize != nil && *resp.TransferSize >= 0 {
		return *resp.TransferSize
	}
	if resp.BodySize >= 0 {
		size := resp.BodySize
		if resp.HeadersSize > 0 {
			size += resp.HeadersSize
		}
		return size
	}
	if resp.Content.Size > 0 {
		return resp.Content.Size
	}
	return 0
}
