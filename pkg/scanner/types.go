// Package scanner implements the discovery core: fetching, HTML
// parsing, recursive crawling and site map construction.
package scanner

import (
	"net/http"
	"strings"
	"time"

	"github.com/MikhailDrugie/se-attack-modeling/internal/urlutil"
)

// Link is a hyperlink extracted from a page.
type Link struct {
	// Raw is the resolved absolute URL, fragment included.
	Raw string `json:"raw"`
	// URL is the normalized form without query string or fragment.
	URL string `json:"url"`
	// QueryParams holds the multi-valued query parameters of Raw.
	QueryParams map[string][]string `json:"query_params,omitempty"`
	// Href is the href attribute exactly as it appeared in the markup.
	Href string `json:"href,omitempty"`
	// Anchor is the fragment split off Raw, without the leading '#'.
	Anchor string `json:"anchor,omitempty"`
}

// NewLink builds a Link from a resolved absolute URL.
func NewLink(rawURL string) Link {
	link := Link{
		Raw:         rawURL,
		URL:         urlutil.StripQuery(rawURL),
		QueryParams: urlutil.QueryParams(rawURL),
	}
	if _, anchor, ok := strings.Cut(rawURL, "#"); ok {
		link.Anchor = anchor
	}
	return link
}

// FieldType is a closed set of form field kinds.
type FieldType string

// Form field types.
const (
	FieldText     FieldType = "text"
	FieldPassword FieldType = "password"
	FieldEmail    FieldType = "email"
	FieldHidden   FieldType = "hidden"
	FieldSubmit   FieldType = "submit"
	FieldCheckbox FieldType = "checkbox"
	FieldRadio    FieldType = "radio"
	FieldFile     FieldType = "file"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldUnknown  FieldType = "unknown"
)

var knownFieldTypes = map[string]FieldType{
	"text":     FieldText,
	"password": FieldPassword,
	"email":    FieldEmail,
	"hidden":   FieldHidden,
	"submit":   FieldSubmit,
	"checkbox": FieldCheckbox,
	"radio":    FieldRadio,
	"file":     FieldFile,
	"textarea": FieldTextarea,
	"select":   FieldSelect,
}

// ParseFieldType maps an input type attribute to a FieldType,
// falling back to FieldUnknown.
func ParseFieldType(s string) FieldType {
	if t, ok := knownFieldTypes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return FieldUnknown
}

// FormField is a single input of a form. Name is always present;
// unnamed inputs are dropped at parse time.
type FormField struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Value       string    `json:"value,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
}

// FormMethod is an HTTP form submission method.
type FormMethod string

// Form methods. Unrecognized methods collapse to POST.
const (
	MethodGet    FormMethod = "GET"
	MethodPost   FormMethod = "POST"
	MethodPut    FormMethod = "PUT"
	MethodPatch  FormMethod = "PATCH"
	MethodDelete FormMethod = "DELETE"
)

var knownFormMethods = map[string]FormMethod{
	"GET":    MethodGet,
	"POST":   MethodPost,
	"PUT":    MethodPut,
	"PATCH":  MethodPatch,
	"DELETE": MethodDelete,
}

// ParseFormMethod normalizes a method attribute.
func ParseFormMethod(s string) FormMethod {
	if m, ok := knownFormMethods[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return m
	}
	return MethodPost
}

// Form is an HTML form with its resolved action.
type Form struct {
	Action Link        `json:"action"`
	Method FormMethod  `json:"method"`
	Fields []FormField `json:"fields"`
	ID     string      `json:"id,omitempty"`
	Class  string      `json:"class,omitempty"`
}

// Key identifies a form for deduplication: action URL plus method.
func (f Form) Key() string {
	return f.Action.URL + ":" + string(f.Method)
}

// Values returns the default submission values, one entry per field
// (empty string when the field has no value).
func (f Form) Values() map[string]string {
	vals := make(map[string]string, len(f.Fields))
	for _, field := range f.Fields {
		vals[field.Name] = field.Value
	}
	return vals
}

// Page is a parsed HTML document.
type Page struct {
	URL     string            `json:"url"`
	Title   string            `json:"title,omitempty"`
	Meta    map[string]string `json:"meta_tags,omitempty"`
	Links   []Link            `json:"links,omitempty"`
	Forms   []Form            `json:"forms,omitempty"`
	Scripts []string          `json:"scripts,omitempty"`
	Styles  []string          `json:"styles,omitempty"`
}

// ContentKind classifies a fetched response body.
type ContentKind string

// Content kinds.
const (
	KindHTML        ContentKind = "html"
	KindJSON        ContentKind = "json"
	KindStaticImage ContentKind = "static_image"
	KindStaticFile  ContentKind = "static_file"
	KindUnknown     ContentKind = "unknown"
)

// FetchResult is the outcome of a single fetch.
type FetchResult struct {
	URL          string        `json:"url"`
	StatusCode   int           `json:"status_code"`
	ContentType  string        `json:"content_type,omitempty"`
	Kind         ContentKind   `json:"kind"`
	Body         string        `json:"-"`
	Headers      http.Header   `json:"-"`
	ResponseTime time.Duration `json:"response_time"`
}

// IsSuccess reports a 2xx status.
func (r *FetchResult) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect reports a 3xx status.
func (r *FetchResult) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// IsClientError reports a 4xx status.
func (r *FetchResult) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError reports a 5xx status.
func (r *FetchResult) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}

// IsStatic reports whether the body is a static asset rather than a
// document worth crawling.
func (r *FetchResult) IsStatic() bool {
	return r.Kind == KindStaticImage || r.Kind == KindStaticFile
}
