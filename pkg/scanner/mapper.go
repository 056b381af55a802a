package scanner

import (
	"sort"

	"github.com/MikhailDrugie/se-attack-modeling/internal/urlutil"
)

// DepthUnreached marks endpoints the BFS never reached from the base
// URL. Reached endpoints always carry a depth of zero or more.
const DepthUnreached = -1

// Resource is a non-page asset: script, stylesheet, image or API
// response.
type Resource struct {
	URL        string      `json:"url"`
	Kind       ContentKind `json:"kind"`
	MimeType   string      `json:"mime_type"`
	StatusCode int         `json:"status_code"`
}

// EndpointInfo groups the page variants sharing one query-stripped URL.
type EndpointInfo struct {
	// URL is the query-stripped endpoint URL.
	URL string `json:"url"`
	// Variants holds every stored page of this endpoint, keyed by the
	// URL it was stored under (query string included).
	Variants map[string]*Page `json:"variants"`
	// Resources are the scripts and stylesheets referenced by the
	// variants.
	Resources []Resource `json:"resources,omitempty"`
	// Forms are the deduplicated forms across all variants.
	Forms []Form `json:"forms,omitempty"`
	// IncomingLinks and OutgoingLinks hold endpoint URLs with edges
	// to and from this endpoint.
	IncomingLinks map[string]struct{} `json:"-"`
	OutgoingLinks map[string]struct{} `json:"-"`
	// Depth is the BFS distance from the base endpoint, or
	// DepthUnreached.
	Depth int `json:"depth"`
}

// EndpointForm pairs a form with the endpoint it was found on.
type EndpointForm struct {
	EndpointURL string
	Form        Form
}

// Summary holds site map counts for reporting.
type Summary struct {
	BaseURL         string `json:"base_url"`
	Endpoints       int    `json:"endpoints_count"`
	StaticResources int    `json:"static_resources_count"`
	APIEndpoints    int    `json:"api_endpoints_count"`
	Errors          int    `json:"errors_count"`
	TotalForms      int    `json:"total_forms"`
}

// SiteMap is the complete discovery result for a target.
type SiteMap struct {
	BaseURL string `json:"base_url"`
	// Endpoints keyed by query-stripped URL.
	Endpoints map[string]*EndpointInfo `json:"endpoints"`
	// StaticResources not tied to a specific endpoint.
	StaticResources []Resource `json:"static_resources,omitempty"`
	// APIEndpoints are JSON responses not covered by an endpoint.
	APIEndpoints []Resource `json:"api_endpoints,omitempty"`
	// Errors holds 4xx/5xx fetch results keyed by the full URL.
	Errors map[string]*FetchResult `json:"errors,omitempty"`
	// Graph is the endpoint adjacency list.
	Graph map[string][]string `json:"graph,omitempty"`
}

// AllForms returns every form with its endpoint URL, endpoints in
// sorted order, forms in first-seen order.
func (m *SiteMap) AllForms() []EndpointForm {
	var forms []EndpointForm
	for _, endpointURL := range sortedKeys(m.Endpoints) {
		for _, form := range m.Endpoints[endpointURL].Forms {
			forms = append(forms, EndpointForm{EndpointURL: endpointURL, Form: form})
		}
	}
	return forms
}

// EndpointByURL finds the endpoint covering a full URL, if any.
func (m *SiteMap) EndpointByURL(rawURL string) *EndpointInfo {
	return m.Endpoints[urlutil.StripQuery(rawURL)]
}

// Summary returns the site map counts.
func (m *SiteMap) Summary() Summary {
	return Summary{
		BaseURL:         m.BaseURL,
		Endpoints:       len(m.Endpoints),
		StaticResources: len(m.StaticResources),
		APIEndpoints:    len(m.APIEndpoints),
		Errors:          len(m.Errors),
		TotalForms:      len(m.AllForms()),
	}
}

// Mapper builds a SiteMap from crawl output. Build is pure: it only
// reads its inputs and touches no network.
type Mapper struct {
	baseURL string
}

// NewMapper creates a Mapper for the given base URL.
func NewMapper(baseURL string) *Mapper {
	return &Mapper{baseURL: baseURL}
}

// Build assembles the site map from crawled pages and fetch results.
func (mp *Mapper) Build(pages map[string]*Page, results map[string]*FetchResult) *SiteMap {
	siteMap := &SiteMap{
		BaseURL:   mp.baseURL,
		Endpoints: make(map[string]*EndpointInfo),
		Errors:    make(map[string]*FetchResult),
		Graph:     make(map[string][]string),
	}

	mp.groupPages(pages, siteMap)
	mp.processResults(results, siteMap)
	mp.collectResources(siteMap)
	mp.buildGraph(siteMap)
	mp.calculateDepths(siteMap)
	mp.collectForms(siteMap)

	return siteMap
}

// groupPages buckets pages into endpoints by query-stripped URL.
func (mp *Mapper) groupPages(pages map[string]*Page, siteMap *SiteMap) {
	for _, url := range sortedKeys(pages) {
		stripped := urlutil.StripQuery(url)

		endpoint, ok := siteMap.Endpoints[stripped]
		if !ok {
			endpoint = &EndpointInfo{
				URL:           stripped,
				Variants:      make(map[string]*Page),
				IncomingLinks: make(map[string]struct{}),
				OutgoingLinks: make(map[string]struct{}),
				Depth:         DepthUnreached,
			}
			siteMap.Endpoints[stripped] = endpoint
		}
		endpoint.Variants[url] = pages[url]
	}
}

// processResults classifies non-page fetch results into errors,
// static resources and API endpoints.
func (mp *Mapper) processResults(results map[string]*FetchResult, siteMap *SiteMap) {
	for _, url := range sortedKeys(results) {
		result := results[url]

		if result.IsClientError() || result.IsServerError() {
			siteMap.Errors[url] = result
			continue
		}

		if result.IsStatic() {
			siteMap.StaticResources = append(siteMap.StaticResources, Resource{
				URL:        url,
				Kind:       result.Kind,
				MimeType:   orUnknown(result.ContentType),
				StatusCode: result.StatusCode,
			})
			continue
		}

		if result.Kind == KindJSON {
			// An endpoint already covers this URL when an HTML variant
			// of it was crawled; don't double-count it as an API.
			if _, covered := siteMap.Endpoints[urlutil.StripQuery(url)]; covered {
				continue
			}
			mime := result.ContentType
			if mime == "" {
				mime = "application/json"
			}
			siteMap.APIEndpoints = append(siteMap.APIEndpoints, Resource{
				URL:        url,
				Kind:       result.Kind,
				MimeType:   mime,
				StatusCode: result.StatusCode,
			})
		}
	}
}

// collectResources harvests script and stylesheet references from the
// page variants. The assets themselves were never fetched, so they are
// assumed reachable.
func (mp *Mapper) collectResources(siteMap *SiteMap) {
	for _, endpointURL := range sortedKeys(siteMap.Endpoints) {
		endpoint := siteMap.Endpoints[endpointURL]
		for _, variantURL := range sortedKeys(endpoint.Variants) {
			page := endpoint.Variants[variantURL]
			for _, scriptURL := range page.Scripts {
				endpoint.Resources = append(endpoint.Resources, Resource{
					URL:        scriptURL,
					Kind:       KindStaticFile,
					MimeType:   "application/javascript",
					StatusCode: 200,
				})
			}
			for _, styleURL := range page.Styles {
				endpoint.Resources = append(endpoint.Resources, Resource{
					URL:        styleURL,
					Kind:       KindStaticFile,
					MimeType:   "text/css",
					StatusCode: 200,
				})
			}
		}
	}
}

// buildGraph adds edges between known endpoints only. Self-loops are
// skipped; a page linking to itself says nothing about reachability.
func (mp *Mapper) buildGraph(siteMap *SiteMap) {
	for _, endpointURL := range sortedKeys(siteMap.Endpoints) {
		endpoint := siteMap.Endpoints[endpointURL]
		siteMap.Graph[endpointURL] = []string{}

		for _, variantURL := range sortedKeys(endpoint.Variants) {
			page := endpoint.Variants[variantURL]
			for _, link := range page.Links {
				target := urlutil.StripQuery(link.URL)
				if target == endpointURL {
					continue
				}
				targetEndpoint, known := siteMap.Endpoints[target]
				if !known {
					continue
				}
				if !containsString(siteMap.Graph[endpointURL], target) {
					siteMap.Graph[endpointURL] = append(siteMap.Graph[endpointURL], target)
				}
				endpoint.OutgoingLinks[target] = struct{}{}
				targetEndpoint.IncomingLinks[endpointURL] = struct{}{}
			}
		}
	}
}

// calculateDepths runs a BFS from the base endpoint. Endpoints the
// walk never reaches keep DepthUnreached.
func (mp *Mapper) calculateDepths(siteMap *SiteMap) {
	baseStripped := urlutil.StripQuery(mp.baseURL)

	type queued struct {
		url   string
		depth int
	}
	queue := []queued{{baseStripped, 0}}
	visited := map[string]struct{}{baseStripped: {}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if endpoint, ok := siteMap.Endpoints[item.url]; ok {
			endpoint.Depth = item.depth
		}

		for _, neighbor := range siteMap.Graph[item.url] {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			queue = append(queue, queued{neighbor, item.depth + 1})
		}
	}
}

// collectForms deduplicates forms per endpoint by action plus method,
// keeping first-seen order.
func (mp *Mapper) collectForms(siteMap *SiteMap) {
	for _, endpointURL := range sortedKeys(siteMap.Endpoints) {
		endpoint := siteMap.Endpoints[endpointURL]
		seen := make(map[string]struct{})

		for _, variantURL := range sortedKeys(endpoint.Variants) {
			page := endpoint.Variants[variantURL]
			for _, form := range page.Forms {
				key := form.Key()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				endpoint.Forms = append(endpoint.Forms, form)
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(s []string, v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
