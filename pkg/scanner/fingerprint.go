package scanner

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// pageShape is the canonical structural encoding of a page. Only the
// shape goes in: counts and field types, never URLs or text, so pages
// rendered from the same template hash identically.
type pageShape struct {
	FormsCount     int         `json:"forms_count"`
	FormsStructure []formShape `json:"forms_structure"`
	LinksCount     int         `json:"links_count"`
	HasTitle       bool        `json:"has_title"`
	ScriptsCount   int         `json:"scripts_count"`
	StylesCount    int         `json:"styles_count"`
}

type formShape struct {
	Method      string   `json:"method"`
	FieldsCount int      `json:"fields_count"`
	FieldTypes  []string `json:"field_types"`
}

// Fingerprint returns an md5 hex digest of the page's structure.
func Fingerprint(page *Page) string {
	shape := pageShape{
		FormsCount:     len(page.Forms),
		FormsStructure: make([]formShape, 0, len(page.Forms)),
		LinksCount:     len(page.Links),
		HasTitle:       page.Title != "",
		ScriptsCount:   len(page.Scripts),
		StylesCount:    len(page.Styles),
	}

	for _, form := range page.Forms {
		types := make([]string, 0, len(form.Fields))
		for _, f := range form.Fields {
			types = append(types, string(f.Type))
		}
		sort.Strings(types)
		shape.FormsStructure = append(shape.FormsStructure, formShape{
			Method:      string(form.Method),
			FieldsCount: len(form.Fields),
			FieldTypes:  types,
		})
	}

	encoded, _ := json.Marshal(shape)
	sum := md5.Sum(encoded)
	return hex.EncodeToString(sum[:])
}
