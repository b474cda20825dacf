package verify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/searchconsole/v1"

	"github.com/launchindex/indexer/internal/indexer"
)

// MethodInspection names the Search Console URL Inspection checker.
const MethodInspection = "inspection"

// Inspector checks index presence through the URL Inspection API. It needs a
// verified property covering the URL and a service-account key with access
// to it.
type Inspector struct {
	property string
	jsonKey  []byte
	extra    []option.ClientOption
}

// NewInspector constructs an Inspector for one property. extra options are
// appended after the credential option, which lets tests inject an endpoint.
func NewInspector(property string, jsonKey []byte, extra ...option.ClientOption) *Inspector {
	return &Inspector{property: property, jsonKey: jsonKey, extra: extra}
}

func (i *Inspector) service(ctx context.Context) (*searchconsole.Service, error) {
	var opts []option.ClientOption
	if len(i.jsonKey) > 0 {
		opts = append(opts, option.WithCredentialsJSON(i.jsonKey))
	}
	opts = append(opts, i.extra...)
	return searchconsole.NewService(ctx, opts...)
}

// Check inspects the URL against the property. Only a PASS verdict counts as
// indexed; FAIL and NEUTRAL are definite negatives.
func (i *Inspector) Check(ctx context.Context, rawURL string) (indexer.CheckResult, error) {
	if i.property == "" {
		return indexer.CheckResult{}, fmt.Errorf("no search console property configured")
	}
	svc, err := i.service(ctx)
	if err != nil {
		return indexer.CheckResult{}, fmt.Errorf("build searchconsole service: %w", err)
	}
	resp, err := svc.UrlInspection.Index.Inspect(&searchconsole.InspectUrlIndexRequest{
		InspectionUrl: rawURL,
		SiteUrl:       i.property,
	}).Context(ctx).Do()
	if err != nil {
		return indexer.CheckResult{}, fmt.Errorf("inspect url: %w", err)
	}
	if resp.InspectionResult == nil || resp.InspectionResult.IndexStatusResult == nil {
		return indexer.CheckResult{}, fmt.Errorf("inspection returned no index status")
	}
	indexed := resp.InspectionResult.IndexStatusResult.Verdict == "PASS"
	return indexer.CheckResult{
		Indexed: &indexed,
		Method:  MethodInspection,
	}, nil
}

// propertyInspector inspects each URL against whichever candidate property
// covers it. URLs outside every candidate fail fast without an API call.
type propertyInspector struct {
	properties []string
	jsonKey    []byte
	extra      []option.ClientOption
}

func (p *propertyInspector) Check(ctx context.Context, rawURL string) (indexer.CheckResult, error) {
	property := MatchProperty(p.properties, rawURL)
	if property == "" {
		return indexer.CheckResult{}, fmt.Errorf("no search console property covers %s", rawURL)
	}
	return NewInspector(property, p.jsonKey, p.extra...).Check(ctx, rawURL)
}

// MatchProperty picks the property covering rawURL from a verified property
// list. URL-prefix properties match when the URL starts with them; domain
// properties (sc-domain:example.com) match the hostname or any subdomain.
func MatchProperty(properties []string, rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	best := ""
	for _, p := range properties {
		if domain, ok := strings.CutPrefix(p, "sc-domain:"); ok {
			domain = strings.ToLower(domain)
			if host == domain || strings.HasSuffix(host, "."+domain) {
				if len(p) > len(best) {
					best = p
				}
			}
			continue
		}
		if strings.HasPrefix(strings.ToLower(rawURL), strings.ToLower(p)) {
			if len(p) > len(best) {
				best = p
			}
		}
	}
	return best
}
