package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func templatePage(title string, linkURLs []string) *Page {
	links := make([]Link, 0, len(linkURLs))
	for _, u := range linkURLs {
		links = append(links, NewLink(u))
	}
	return &Page{
		URL:   "https://example.com/items",
		Title: title,
		Links: links,
		Forms: []Form{
			{
				Action: NewLink("https://example.com/search"),
				Method: MethodGet,
				Fields: []FormField{
					{Name: "q", Type: FieldText},
					{Name: "go", Type: FieldSubmit},
				},
			},
		},
		Scripts: []string{"https://example.com/app.js"},
		Styles:  []string{"https://example.com/app.css"},
	}
}

func TestFingerprint_InvariantToText(t *testing.T) {
	a := templatePage("Item 1", []string{"https://example.com/a", "https://example.com/b"})
	b := templatePage("Completely different item", []string{"https://example.com/x?id=9", "https://example.com/y"})

	assert.Equal(t, Fingerprint(a), Fingerprint(b),
		"pages with the same shape must hash identically regardless of text and URLs")
}

func TestFingerprint_SensitiveToStructure(t *testing.T) {
	base := templatePage("Item", []string{"https://example.com/a", "https://example.com/b"})
	hash := Fingerprint(base)

	extraLink := templatePage("Item", []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"})
	assert.NotEqual(t, hash, Fingerprint(extraLink), "link count changes the shape")

	noForm := templatePage("Item", []string{"https://example.com/a", "https://example.com/b"})
	noForm.Forms = nil
	assert.NotEqual(t, hash, Fingerprint(noForm), "form count changes the shape")

	extraField := templatePage("Item", []string{"https://example.com/a", "https://example.com/b"})
	extraField.Forms[0].Fields = append(extraField.Forms[0].Fields, FormField{Name: "x", Type: FieldHidden})
	assert.NotEqual(t, hash, Fingerprint(extraField), "field count changes the shape")

	untitled := templatePage("", []string{"https://example.com/a", "https://example.com/b"})
	assert.NotEqual(t, hash, Fingerprint(untitled), "title presence changes the shape")
}

func TestFingerprint_FieldOrderIgnored(t *testing.T) {
	a := templatePage("Item", []string{"https://example.com/a"})
	b := templatePage("Item", []string{"https://example.com/a"})
	b.Forms[0].Fields = []FormField{
		b.Forms[0].Fields[1],
		b.Forms[0].Fields[0],
	}

	assert.Equal(t, Fingerprint(a), Fingerprint(b), "field types are sorted before hashing")
}

func TestFingerprint_Deterministic(t *testing.T) {
	p := templatePage("Item", []string{"https://example.com/a"})
	assert.Equal(t, Fingerprint(p), Fingerprint(p))
}
