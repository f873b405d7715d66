// Package domain defines the core entities shared across the publishing
// engine: articles, platform descriptors, sync state and results.
package domain

// Article is the immutable unit of publication. A snapshot is taken when a
// sync starts; nothing mutates it afterwards.
type Article struct {
	Title    string `json:"title"`
	HTML     string `json:"html"`
	Markdown string `json:"markdown,omitempty"`
	CoverURL string `json:"coverUrl,omitempty"`

	// Variants holds optional per-destination pre-rendered bodies keyed by
	// platform id. A destination without an entry receives HTML (or Markdown
	// when the destination prefers it).
	Variants map[string]string `json:"variants,omitempty"`

	// SourceURL is where the article was extracted from, if anywhere.
	SourceURL string `json:"sourceUrl,omitempty"`
}

// BodyFor returns the body to publish to the given platform, preferring a
// pre-rendered variant when one exists.
func (a *Article) BodyFor(platformID string) string {
	if v, ok := a.Variants[platformID]; ok && v != "" {
		return v
	}
	return a.HTML
}

// Clone returns a deep copy. The orchestrator snapshots the caller's article
// so later mutation by the caller cannot leak into an in-flight sync.
func (a *Article) Clone() *Article {
	cp := *a
	if a.Variants != nil {
		cp.Variants = make(map[string]string, len(a.Variants))
		for k, v := range a.Variants {
			cp.Variants[k] = v
		}
	}
	return &cp
}
