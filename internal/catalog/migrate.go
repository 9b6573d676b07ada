package catalog

import (
	"encoding/json"
	"fmt"
)

// ErrUnsupportedVersion is returned for documents newer than SchemaVersion.
type ErrUnsupportedVersion struct {
	Version int
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("catalog schema version %d is newer than supported version %d", e.Version, SchemaVersion)
}

// legacyPart accepts both the version 0 field names (pn, desc) and the
// current ones.
type legacyPart struct {
	Part
	PN   string `json:"pn"`
	Desc string `json:"desc"`
}

type legacyDocument struct {
	SchemaVersion int          `json:"schema_version"`
	Equipment     []Equipment  `json:"equipment"`
	Categories    []Category   `json:"categories"`
	Parts         []legacyPart `json:"parts"`
	Copy          *Copy        `json:"copy"`
}

// Decode parses a stored document, migrating older versions. Sections
// missing from a stored document are taken from fallback.
func Decode(data []byte, fallback Document) (Document, error) {
	var raw legacyDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("decode catalog: %w", err)
	}
	if raw.SchemaVersion > SchemaVersion {
		return Document{}, &ErrUnsupportedVersion{Version: raw.SchemaVersion}
	}

	doc := fallback.clone()
	doc.SchemaVersion = SchemaVersion
	if raw.Equipment != nil {
		doc.Equipment = raw.Equipment
	}
	if raw.Categories != nil {
		doc.Categories = raw.Categories
	}
	if raw.Copy != nil {
		doc.Copy = *raw.Copy
	}
	if raw.Parts != nil {
		doc.Parts = make([]Part, 0, len(raw.Parts))
		for _, lp := range raw.Parts {
			p := lp.Part
			if p.PartNumber == "" {
				p.PartNumber = lp.PN
			}
			if p.Description == "" {
				p.Description = lp.Desc
			}
			doc.Parts = append(doc.Parts, p)
		}
	}
	return doc, nil
}
