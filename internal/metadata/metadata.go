package metadata

import (
	"encoding/json"
	"fmt"
)

// Document is the off-chain JSON referenced by a minted token.
type Document struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Media       string `json:"media"`
}

func New(title, description, mediaURL string) Document {
	return Document{Title: title, Description: description, Media: mediaURL}
}

// Encode renders the document the way it is pinned: two-space indented JSON.
func (d Document) Encode() ([]byte, error) {
	if d.Media == "" {
		return nil, fmt.Errorf("metadata: media url is required")
	}
	return json.MarshalIndent(d, "", "  ")
}

// FileName is the declared upload name for a run's metadata document.
func FileName(runID string) string {
	return fmt.Sprintf("metadata_%s.json", runID)
}
