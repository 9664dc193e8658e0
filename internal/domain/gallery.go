package domain

// ImageRecord is a creative persisted by the rendering service.
type ImageRecord struct {
	ID        string              `json:"_id,omitempty"`
	Format    string              `json:"format"`
	Color     string              `json:"color"`
	BatchID   string              `json:"batch_id,omitempty"`
	CreatedAt string              `json:"created_at,omitempty"`
	URL       string              `json:"url,omitempty"`
	URLs      map[Encoding]string `json:"urls,omitempty"`
}

// Location resolves the address to display, preferring the per-encoding
// map over the legacy single URL.
func (r ImageRecord) Location() string {
	for _, enc := range Encodings {
		if v := r.URLs[enc]; v != "" {
			return v
		}
	}
	return r.URL
}

// RemoteDownload is a download offered for a persisted record.
type RemoteDownload struct {
	Encoding Encoding `json:"encoding"`
	URL      string   `json:"url"`
}

// Downloads lists one entry per encoding present in the URL map.
func (r ImageRecord) Downloads() []RemoteDownload {
	var out []RemoteDownload
	for _, enc := range Encodings {
		if v := r.URLs[enc]; v != "" {
			out = append(out, RemoteDownload{Encoding: enc, URL: v})
		}
	}
	return out
}

// Batch groups the creatives produced by one generation attempt.
type Batch struct {
	Key       string        `json:"key"`
	Fallback  bool          `json:"fallback"`
	Color     string        `json:"color"`
	CreatedAt string        `json:"created_at,omitempty"`
	Records   []ImageRecord `json:"records"`
}
