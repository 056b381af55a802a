package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLink(t *testing.T) {
	link := NewLink("https://example.com/items?id=5&sort=asc#top")

	assert.Equal(t, "https://example.com/items?id=5&sort=asc#top", link.Raw)
	assert.Equal(t, "https://example.com/items", link.URL)
	assert.Equal(t, []string{"5"}, link.QueryParams["id"])
	assert.Equal(t, []string{"asc"}, link.QueryParams["sort"])
	assert.Equal(t, "top", link.Anchor)
}

func TestNewLink_NoFragment(t *testing.T) {
	link := NewLink("https://example.com/items")

	assert.Equal(t, "https://example.com/items", link.Raw)
	assert.Empty(t, link.Anchor)
}

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		in   string
		want FieldType
	}{
		{"text", FieldText},
		{"TEXT", FieldText},
		{"password", FieldPassword},
		{"email", FieldEmail},
		{"hidden", FieldHidden},
		{"submit", FieldSubmit},
		{"checkbox", FieldCheckbox},
		{"radio", FieldRadio},
		{"number", FieldUnknown},
		{"file", FieldFile},
		{"textarea", FieldTextarea},
		{"select", FieldSelect},
		{"datetime-local", FieldUnknown},
		{"", FieldUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseFieldType(tt.in), "type %q", tt.in)
	}
}

func TestParseFormMethod(t *testing.T) {
	assert.Equal(t, MethodGet, ParseFormMethod("get"))
	assert.Equal(t, MethodGet, ParseFormMethod("GET"))
	assert.Equal(t, MethodPost, ParseFormMethod("post"))
	assert.Equal(t, MethodPut, ParseFormMethod("put"))
	assert.Equal(t, MethodPatch, ParseFormMethod("PATCH"))
	assert.Equal(t, MethodDelete, ParseFormMethod("delete"))
	assert.Equal(t, MethodPost, ParseFormMethod("OPTIONS"), "unrecognized methods collapse to POST")
	assert.Equal(t, MethodPost, ParseFormMethod(""))
}

func TestForm_Key(t *testing.T) {
	form := Form{
		Action: NewLink("https://example.com/login?next=home"),
		Method: MethodPost,
	}
	assert.Equal(t, "https://example.com/login:POST", form.Key())
}

func TestForm_Values(t *testing.T) {
	form := Form{
		Fields: []FormField{
			{Name: "user", Type: FieldText, Value: "admin"},
			{Name: "pass", Type: FieldPassword},
			{Name: "csrf", Type: FieldHidden, Value: "tok123"},
		},
	}

	vals := form.Values()
	assert.Equal(t, map[string]string{
		"user": "admin",
		"pass": "",
		"csrf": "tok123",
	}, vals)
}

func TestFetchResult_StatusPredicates(t *testing.T) {
	tests := []struct {
		status                                  int
		success, redirect, clientErr, serverErr bool
	}{
		{200, true, false, false, false},
		{204, true, false, false, false},
		{301, false, true, false, false},
		{404, false, false, true, false},
		{500, false, false, false, true},
	}

	for _, tt := range tests {
		r := &FetchResult{StatusCode: tt.status}
		assert.Equal(t, tt.success, r.IsSuccess(), "status %d", tt.status)
		assert.Equal(t, tt.redirect, r.IsRedirect(), "status %d", tt.status)
		assert.Equal(t, tt.clientErr, r.IsClientError(), "status %d", tt.status)
		assert.Equal(t, tt.serverErr, r.IsServerError(), "status %d", tt.status)
	}
}

func TestFetchResult_IsStatic(t *testing.T) {
	assert.True(t, (&FetchResult{Kind: KindStaticImage}).IsStatic())
	assert.True(t, (&FetchResult{Kind: KindStaticFile}).IsStatic())
	assert.False(t, (&FetchResult{Kind: KindHTML}).IsStatic())
	assert.False(t, (&FetchResult{Kind: KindJSON}).IsStatic())
	assert.False(t, (&FetchResult{Kind: KindUnknown}).IsStatic())
}

func TestClassifyContent(t *testing.T) {
	tests := []struct {
		name string
		mime string
		url  string
		want ContentKind
	}{
		{"html", "text/html", "https://example.com/", KindHTML},
		{"xhtml", "application/xhtml+xml", "https://example.com/", KindHTML},
		{"json", "application/json", "https://example.com/api", KindJSON},
		{"png mime", "image/png", "https://example.com/x", KindStaticImage},
		{"pdf mime", "application/pdf", "https://example.com/doc", KindStaticFile},
		{"javascript mime", "application/javascript", "https://example.com/app", KindStaticFile},
		{"css mime", "text/css", "https://example.com/style", KindStaticFile},
		{"image by extension", "application/octet-stream", "https://example.com/logo.png", KindStaticImage},
		{"file by extension", "application/octet-stream", "https://example.com/bundle.js", KindStaticFile},
		{"unknown", "application/octet-stream", "https://example.com/blob", KindUnknown},
		{"empty mime html ext fallback", "", "https://example.com/feed.xml", KindStaticFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyContent(tt.mime, tt.url))
		})
	}
}
