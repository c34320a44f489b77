//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import "strings"

// ResourceType classifies a captured network request by what the page loaded it as.
type ResourceType string

const (
	ResourceTypeDocument   ResourceType = "document"
	ResourceTypeScript     ResourceType = "script"
	ResourceTypeStylesheet ResourceType = "stylesheet"
	ResourceTypeImage      ResourceType = "image"
	ResourceTypeFont       ResourceType = "font"
	ResourceTypeMedia      ResourceType = "media"
	ResourceTypeXHR        ResourceType = "xhr"
	ResourceTypeOther      ResourceType = "other"

	// Synthetic report buckets. Never assigned to individual requests but
	// valid targets for budget declarations and present as report rows.
	ResourceTypeTotal      ResourceType = "total"
	ResourceTypeThirdParty ResourceType = "third-party"
)

// requestResourceTypes lists the concrete types a single request can carry.
var requestResourceTypes = []ResourceType{
	ResourceTypeDocument,
	ResourceTypeScript,
	ResourceTypeStylesheet,
	ResourceTypeImage,
	ResourceTypeFont,
	ResourceTypeMedia,
	ResourceTypeXHR,
	ResourceTypeOther,
}

// Valid reports whether the type is one of the concrete per-request types.
func (t ResourceType) Valid() bool {
	for _, rt := range requestResourceTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// Budgetable reports whether a budget may be declared against this type.
// Concrete types plus the synthetic total and third-party buckets qualify.
func (t ResourceType) Budgetable() bool {
	return t.Valid() || t == ResourceTypeTotal || t == ResourceTypeThirdParty
}

// Label returns the display label used in report rows.
func (t ResourceType) Label() string {
	switch t {
	case ResourceTypeDocument:
		return "Document"
	case ResourceTypeScript:
		return "Script"
	case ResourceTypeStylesheet:
		return "Stylesheet"
	case ResourceTypeImage:
		return "Image"
	case ResourceTypeFont:
		return "Font"
	case ResourceTypeMedia:
		return "Media"
	case ResourceTypeXHR:
		return "XHR"
	case ResourceTypeOther:
		return "Other"
	case ResourceTypeTotal:
		return "Total"
	case ResourceTypeThirdParty:
		return "Third-party"
	default:
		return string(t)
	}
}

// NormalizeResourceType maps an arbitrary capture-side type string onto the
// canonical vocabulary. Matching is case-insensitive; fetch requests fold
// into xhr; anything unrecognized lands in other.
func NormalizeResourceType(value string) ResourceType {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "fetch", "xhr":
		return ResourceTypeXHR
	}
	t := ResourceType(normalized)
	if t.Valid() {
		return t
	}
	return ResourceTypeOther
}

// ParseBudgetResourceType normalizes a budget target type and reports whether
// it names a budgetable bucket. Unlike NormalizeResourceType it does not fold
// unknown values into other; a budget against a typo is a config error.
func ParseBudgetResourceType(value string) (ResourceType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "fetch" {
		normalized = string(ResourceTypeXHR)
	}
	t := ResourceType(normalized)
	if t.Budgetable() {
		return t, true
	}
	return "", false
}
