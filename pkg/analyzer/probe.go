package analyzer

import (
	"context"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/scanner"
)

// maxProbeBody caps how much of a probe response is read.
const maxProbeBody = 2 << 20

func readLimited(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxProbeBody))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// defaultProbeDelay spaces consecutive probes against one target.
const defaultProbeDelay = 100 * time.Millisecond

// hit is one confirmed probe.
type hit struct {
	URL      string
	Param    string
	Method   string
	Payload  string
	Evidence string
	Response *ProbeResponse
}

// checkFunc inspects a probe response and reports whether it confirms
// a vulnerability, with the supporting evidence.
type checkFunc func(payload string, resp *ProbeResponse) (evidence string, vulnerable bool)

// buildFunc turns a confirmed probe into a finding.
type buildFunc func(h hit) Vulnerability

// prober is the shared active-probing harness. It walks every
// endpoint, substitutes payloads into form fields and GET query
// parameters one at a time, and records findings confirmed by check.
// Per field, probing stops at the first confirmed payload.
type prober struct {
	payloads []string
	check    checkFunc
	build    buildFunc
	delay    time.Duration
	log      *logger.Logger
}

func (p *prober) run(ctx context.Context, session Session, site *scanner.SiteMap, result *Result) error {
	for _, endpointURL := range sortedEndpoints(site) {
		endpoint := site.Endpoints[endpointURL]
		result.TestedEndpoints++

		for _, form := range endpoint.Forms {
			if err := p.testForm(ctx, session, form, result); err != nil {
				return err
			}
		}

		if err := p.testQueryParams(ctx, session, endpoint, result); err != nil {
			return err
		}
	}
	return nil
}

// testForm substitutes each payload into each fillable field, keeping
// the other fields at their default values.
func (p *prober) testForm(ctx context.Context, session Session, form scanner.Form, result *Result) error {
	defaults := form.Values()
	p.log.Debugf("testing form %s %s", form.Method, form.Action.URL)

	for _, field := range form.Fields {
		if field.Type == scanner.FieldSubmit || field.Type == scanner.FieldHidden {
			continue
		}

		for _, payload := range p.payloads {
			params := copyValues(defaults)
			params[field.Name] = payload

			found, err := p.probe(ctx, session, hit{
				URL:     form.Action.URL,
				Param:   field.Name,
				Method:  string(form.Method),
				Payload: payload,
			}, params, result)
			if err != nil {
				return err
			}
			if found {
				break
			}

			if err := sleep(ctx, p.delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// testQueryParams probes the GET query parameters of the endpoint's
// first page variant, one parameter at a time.
func (p *prober) testQueryParams(ctx context.Context, session Session, endpoint *scanner.EndpointInfo, result *Result) error {
	variant := firstVariant(endpoint)
	if variant == nil {
		return nil
	}

	base := scanner.NewLink(variant.URL)
	if len(base.QueryParams) == 0 {
		return nil
	}

	p.log.Debugf("testing query params on %s", endpoint.URL)

	for _, name := range sortedParamNames(base.QueryParams) {
		for _, payload := range p.payloads {
			params := flattenParams(base.QueryParams)
			params[name] = payload

			found, err := p.probe(ctx, session, hit{
				URL:     endpoint.URL,
				Param:   name,
				Method:  http.MethodGet,
				Payload: payload,
			}, params, result)
			if err != nil {
				return err
			}
			if found {
				break
			}

			if err := sleep(ctx, p.delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// probe sends one request and records a finding when check confirms
// it. Transport errors skip the payload; context cancellation aborts.
func (p *prober) probe(ctx context.Context, session Session, h hit, params map[string]string, result *Result) (bool, error) {
	resp, err := session.Do(ctx, h.Method, h.URL, params)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.log.WithError(err).Debugf("probe failed: %s %s", h.Method, h.URL)
		return false, nil
	}
	result.TotalRequests++
	resp.Payload = h.Payload

	evidence, vulnerable := p.check(h.Payload, resp)
	if !vulnerable {
		return false, nil
	}

	h.Evidence = evidence
	h.Response = resp
	vuln := p.build(h)
	result.Vulnerabilities = append(result.Vulnerabilities, vuln)
	p.log.Warnf("vulnerability: %s in %q", vuln.Name, h.Param)
	return true, nil
}

func firstVariant(endpoint *scanner.EndpointInfo) *scanner.Page {
	if len(endpoint.Variants) == 0 {
		return nil
	}
	keys := make([]string, 0, len(endpoint.Variants))
	for k := range endpoint.Variants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return endpoint.Variants[keys[0]]
}

func sortedParamNames(params map[string][]string) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func flattenParams(params map[string][]string) map[string]string {
	flat := make(map[string]string, len(params))
	for name, values := range params {
		if len(values) > 0 {
			flat[name] = values[0]
		} else {
			flat[name] = ""
		}
	}
	return flat
}

func copyValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
