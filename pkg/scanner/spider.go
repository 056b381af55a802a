package scanner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	scanerrors "github.com/MikhailDrugie/se-attack-modeling/internal/errors"
	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
	"github.com/MikhailDrugie/se-attack-modeling/internal/urlutil"
)

// Spider parses HTML documents into Pages: links, forms, script and
// stylesheet references.
type Spider struct {
	baseURL string
	log     *logger.Logger
}

// NewSpider creates a Spider scoped to the given base URL. Links
// pointing outside the base origin are dropped at parse time.
func NewSpider(baseURL string, log *logger.Logger) (*Spider, error) {
	if !urlutil.IsHTTP(baseURL) {
		return nil, scanerrors.NewValidationError(baseURL, "base URL must be absolute http(s)")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Spider{
		baseURL: baseURL,
		log:     log.WithComponent("spider"),
	}, nil
}

// Parse extracts structured data from an HTML document fetched from
// currentURL.
func (s *Spider) Parse(html, currentURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, scanerrors.NewParseError(currentURL, "html_parse", err)
	}

	page := &Page{
		URL:   currentURL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	page.Meta = extractMeta(doc)
	page.Links = s.extractLinks(doc, currentURL)
	page.Forms = s.extractForms(doc, currentURL)
	page.Scripts = s.extractRefs(doc, currentURL, "script[src]", "src")
	page.Styles = s.extractRefs(doc, currentURL, "link[rel='stylesheet'][href]", "href")

	s.log.Debugf("parsed %s: %d links, %d forms", currentURL, len(page.Links), len(page.Forms))
	return page, nil
}

// extractLinks collects same-origin links, deduplicated within the
// page by their fragment-free form. The current page itself is skipped.
func (s *Spider) extractLinks(doc *goquery.Document, currentURL string) []Link {
	var links []Link
	seen := map[string]struct{}{
		urlutil.Clean(currentURL): {},
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || hasSkippedScheme(href) {
			return
		}

		resolved, err := urlutil.Resolve(currentURL, href)
		if err != nil || !urlutil.IsHTTP(resolved) {
			return
		}
		if !urlutil.SameOrigin(resolved, s.baseURL) {
			return
		}

		clean := urlutil.Clean(resolved)
		if _, dup := seen[clean]; dup {
			return
		}
		seen[clean] = struct{}{}
		link := NewLink(resolved)
		link.Href = href
		links = append(links, link)
	})

	return links
}

// extractMeta collects meta tags keyed by their name (or property,
// for Open Graph style tags). Tags without content are skipped.
func extractMeta(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" {
			name = sel.AttrOr("property", "")
		}
		content := sel.AttrOr("content", "")
		if name != "" && content != "" {
			meta[name] = content
		}
	})
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// hasSkippedScheme filters anchors that never lead to a fetchable page.
func hasSkippedScheme(href string) bool {
	return strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "data:")
}

// extractForms collects forms with their resolved actions and fields.
func (s *Spider) extractForms(doc *goquery.Document, currentURL string) []Form {
	var forms []Form

	doc.Find("form").Each(func(_ int, sel *goquery.Selection) {
		action := strings.TrimSpace(sel.AttrOr("action", ""))
		target := currentURL
		if action != "" {
			if resolved, err := urlutil.Resolve(currentURL, action); err == nil {
				target = resolved
			}
		}

		form := Form{
			Action: NewLink(target),
			Method: ParseFormMethod(sel.AttrOr("method", "GET")),
			Fields: extractFields(sel),
			ID:     sel.AttrOr("id", ""),
			Class:  sel.AttrOr("class", ""),
		}
		forms = append(forms, form)
	})

	return forms
}

// extractFields collects named inputs, textareas and selects.
// Unnamed controls are dropped.
func extractFields(form *goquery.Selection) []FormField {
	var fields []FormField

	form.Find("input").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" {
			return
		}
		fields = append(fields, FormField{
			Name:        name,
			Type:        ParseFieldType(sel.AttrOr("type", "text")),
			Value:       sel.AttrOr("value", ""),
			Required:    hasAttr(sel, "required"),
			Placeholder: sel.AttrOr("placeholder", ""),
		})
	})

	form.Find("textarea").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" {
			return
		}
		fields = append(fields, FormField{
			Name:        name,
			Type:        FieldTextarea,
			Value:       strings.TrimSpace(sel.Text()),
			Required:    hasAttr(sel, "required"),
			Placeholder: sel.AttrOr("placeholder", ""),
		})
	})

	form.Find("select").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" {
			return
		}
		value := sel.Find("option[selected]").First().AttrOr("value", "")
		fields = append(fields, FormField{
			Name:     name,
			Type:     FieldSelect,
			Value:    value,
			Required: hasAttr(sel, "required"),
		})
	})

	return fields
}

// extractRefs resolves asset references matched by the selector.
func (s *Spider) extractRefs(doc *goquery.Document, currentURL, selector, attr string) []string {
	var refs []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		val, ok := sel.Attr(attr)
		if !ok || strings.TrimSpace(val) == "" {
			return
		}
		if resolved, err := urlutil.Resolve(currentURL, val); err == nil {
			refs = append(refs, resolved)
		}
	})
	return refs
}

func hasAttr(sel *goquery.Selection, name string) bool {
	_, ok := sel.Attr(name)
	return ok
}
