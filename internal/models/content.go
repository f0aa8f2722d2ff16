package models

import (
	"fmt"
	"strings"
	"time"
)

// Modality is the content category of an indexed unit. Video recordings are
// indexed as audio units carrying SourceRef.OriginVideo.
type Modality string

const (
	ModalityDocument Modality = "document"
	ModalityImage    Modality = "image"
	ModalityAudio    Modality = "audio"
)

// Modalities lists every modality in merge priority order.
var Modalities = []Modality{ModalityDocument, ModalityImage, ModalityAudio}

func ParseModality(s string) (Modality, error) {
	switch Modality(strings.ToLower(strings.TrimSpace(s))) {
	case ModalityDocument, "text":
		return ModalityDocument, nil
	case ModalityImage:
		return ModalityImage, nil
	case ModalityAudio, "video":
		return ModalityAudio, nil
	}
	return "", fmt.Errorf("unknown modality %q", s)
}

// Priority orders modalities when relevance scores tie; lower wins.
func (m Modality) Priority() int {
	switch m {
	case ModalityDocument:
		return 0
	case ModalityImage:
		return 1
	case ModalityAudio:
		return 2
	default:
		return 3
	}
}

func (m Modality) Valid() bool {
	return m.Priority() < 3
}

// SourceRef points back at the original artifact. It is only rendered for
// citations and never compared.
type SourceRef struct {
	Filename    string   `json:"filename"`
	Page        int      `json:"page,omitempty"`
	StartSec    *float64 `json:"start_sec,omitempty"`
	EndSec      *float64 `json:"end_sec,omitempty"`
	OriginVideo string   `json:"origin_video,omitempty"`
}

// String renders the reference for display, e.g. "report.pdf, page 3" or
// "call.mp3 @ 01:05-01:40".
func (s SourceRef) String() string {
	var sb strings.Builder
	sb.WriteString(s.Filename)
	if sb.Len() == 0 {
		sb.WriteString("unknown source")
	}
	if s.Page > 0 {
		fmt.Fprintf(&sb, ", page %d", s.Page)
	}
	if s.StartSec != nil {
		fmt.Fprintf(&sb, " @ %s", clock(*s.StartSec))
		if s.EndSec != nil {
			fmt.Fprintf(&sb, "-%s", clock(*s.EndSec))
		}
	}
	if s.OriginVideo != "" {
		fmt.Fprintf(&sb, " (from video %s)", s.OriginVideo)
	}
	return sb.String()
}

func clock(sec float64) string {
	total := int(sec)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// ContentUnit is the atomic indexed item.
type ContentUnit struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id,omitempty"`
	Modality   Modality          `json:"modality"`
	Text       string            `json:"text"`
	Embedding  []float32         `json:"embedding,omitempty"`
	SourceRef  SourceRef         `json:"source_ref"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Validate checks the fields every stored unit must carry. Dimensionality is
// checked by the vector store against its partition.
func (u ContentUnit) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !u.Modality.Valid() {
		return &ValidationError{UnitID: u.ID, Field: "modality", Reason: fmt.Sprintf("unknown modality %q", u.Modality)}
	}
	if strings.TrimSpace(u.Text) == "" {
		return &ValidationError{UnitID: u.ID, Field: "text", Reason: "must not be empty"}
	}
	if len(u.Embedding) == 0 {
		return &ValidationError{UnitID: u.ID, Field: "embedding", Reason: "must not be empty"}
	}
	return nil
}

// Clone returns a deep copy so callers never share backing arrays with a
// store's records.
func (u ContentUnit) Clone() ContentUnit {
	c := u
	if u.Embedding != nil {
		c.Embedding = append([]float32(nil), u.Embedding...)
	}
	if u.Metadata != nil {
		c.Metadata = make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
