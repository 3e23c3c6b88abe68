package models

const (
	// MaxImages caps the primary image list of a ProductInfo.
	MaxImages = 6
	// MaxVideos caps the primary video list of a ProductInfo.
	MaxVideos = 3
	// MaxCandidates caps the diagnostic candidate lists kept in Raw.
	MaxCandidates = 12
)

// ProductInfo is the result record of one extraction call. Images and
// Videos hold absolute URLs, deduplicated by query-stripped path and
// capped at MaxImages/MaxVideos. Raw carries diagnostic fields only
// (method used, candidate lists, attempt logs) and is never authoritative.
type ProductInfo struct {
	SourceURL string         `json:"source_url"`
	FinalURL  string         `json:"final_url"`
	Title     string         `json:"title"`
	Images    []string       `json:"images"`
	Videos    []string       `json:"videos"`
	Raw       map[string]any `json:"raw,omitempty"`
}

func NewProductInfo(sourceURL string) *ProductInfo {
	return &ProductInfo{
		SourceURL: sourceURL,
		Images:    make([]string, 0),
		Videos:    make([]string, 0),
		Raw:       make(map[string]any),
	}
}

// SetRaw stores a diagnostic field, allocating Raw if needed.
func (p *ProductInfo) SetRaw(key string, value any) {
	if p.Raw == nil {
		p.Raw = make(map[string]any)
	}
	p.Raw[key] = value
}

// RawStrings returns a diagnostic field as a string slice, tolerating
// both []string and []any encodings (the latter appears after a JSON
// round trip through the cache).
func (p *ProductInfo) RawStrings(key string) []string {
	if p.Raw == nil {
		return nil
	}
	switch v := p.Raw[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
