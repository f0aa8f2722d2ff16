package models

import "time"

// RetrievalResult is one ranked hit for a single query. It is a value and is
// never shared across requests.
type RetrievalResult struct {
	UnitID       string    `json:"unit_id"`
	DocumentID   string    `json:"document_id,omitempty"`
	Modality     Modality  `json:"modality"`
	Score        float64   `json:"relevance_score"`
	ModalityRank int       `json:"modality_rank"`
	Rank         int       `json:"rank"`
	Text         string    `json:"text"`
	SourceRef    SourceRef `json:"source_ref"`
	Seq          uint64    `json:"-"`
	Related      []string  `json:"related,omitempty"`

	embedding []float32
}

// WithEmbedding attaches the unit's vector for same-space comparisons made
// during cross-reference detection. It is not serialized.
func (r RetrievalResult) WithEmbedding(v []float32) RetrievalResult {
	r.embedding = v
	return r
}

func (r RetrievalResult) Embedding() []float32 { return r.embedding }

// Citation is derived 1:1 from a result admitted into the assembled context.
type Citation struct {
	Number         int       `json:"number"`
	UnitID         string    `json:"unit_id"`
	DocumentID     string    `json:"document_id,omitempty"`
	Modality       Modality  `json:"modality"`
	SourceRef      SourceRef `json:"source_ref"`
	Source         string    `json:"source"`
	ContentPreview string    `json:"content_preview"`
	Score          float64   `json:"relevance_score"`
	Related        []string  `json:"related,omitempty"`
}

// PreviewLen bounds Citation.ContentPreview, in runes.
const PreviewLen = 200

func Preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

// Turn is one completed (query, answer) exchange.
type Turn struct {
	Query  string    `json:"query"`
	Answer string    `json:"answer"`
	At     time.Time `json:"at"`
}

// SessionState holds the ordered turn history of one conversation.
type SessionState struct {
	SessionID string    `json:"session_id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is a compact view of a session's history.
type SessionSummary struct {
	SessionID    string     `json:"session_id"`
	Exchanges    int        `json:"exchanges"`
	Topics       []string   `json:"topics"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}
