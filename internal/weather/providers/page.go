package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/sony/gobreaker"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"github.com/i474232898/weather-data-collector/internal/common"
	"github.com/i474232898/weather-data-collector/internal/weather"
)

const maxPageSize = 4 << 20

// browserHeaders make page requests look like an ordinary desktop browser.
var browserHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
	"Upgrade-Insecure-Requests": "1",
	"Referer":                   "https://www.google.com/",
}

// Probe extracts a value from a parsed page. ok is false when the page
// does not carry it where the probe looks.
type Probe func(doc *html.Node) (value string, ok bool)

// PageSite describes how to read current weather from one site.
type PageSite struct {
	Name string
	// URLs maps a lowercase city name to the city page.
	URLs map[string]string
	// Temperature probes are tried in order; the first plausible number wins.
	Temperature []Probe
	Description []Probe
	// ScanText enables a last-resort search for "N°" in the visible page text.
	ScanText bool
}

// PageProvider implements weather.Adapter by scraping a site's city page.
type PageProvider struct {
	site    PageSite
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewPageProvider(client *http.Client, site PageSite) *PageProvider {
	urls := make(map[string]string, len(site.URLs))
	for city, u := range site.URLs {
		urls[strings.ToLower(city)] = u
	}
	site.URLs = urls

	return &PageProvider{
		site: site,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: DefaultBackoff,
		},
		circuit: newCircuit(site.Name),
	}
}

func (p *PageProvider) Name() string {
	return p.site.Name
}

func (p *PageProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	pageURL, ok := p.site.URLs[strings.ToLower(strings.TrimSpace(loc.City))]
	if !ok {
		return weather.Reading{}, unavailablef("%s has no page for %s", p.site.Name, loc.City)
	}

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range browserHeaders {
			req.Header.Set(k, v)
		}
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.Reading{}, classify(err)
	}
	defer resp.Body.Close()

	body, err := charset.NewReader(io.LimitReader(resp.Body, maxPageSize), resp.Header.Get("Content-Type"))
	if err != nil {
		return weather.Reading{}, fmt.Errorf("decode %s page: %w", p.site.Name, err)
	}
	doc, err := html.Parse(body)
	if err != nil {
		return weather.Reading{}, fmt.Errorf("parse %s page: %w", p.site.Name, err)
	}

	if isCaptcha(doc) {
		return weather.Reading{}, unavailablef("%s answered with a captcha page", p.site.Name)
	}
	return p.site.extract(doc)
}

var captchaMarkers = []string{"captcha", "я не робот", "i'm not a robot", "smartcaptcha"}

func isCaptcha(doc *html.Node) bool {
	title := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Title })
	if title != nil && common.HasAny(strings.ToLower(textOf(title)), captchaMarkers...) {
		return true
	}
	form := findFirst(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Form && common.ContainsFold(attr(n, "action"), "captcha")
	})
	return form != nil
}

var (
	degreePattern   = regexp.MustCompile(`([+\-−]?\d+(?:[.,]\d+)?)\s*°`)
	humidityPattern = regexp.MustCompile(`(?:влажность|humidity)\D{0,15}?(\d{1,3})\s*%`)
	pressurePattern = regexp.MustCompile(`(?:давление|pressure)\D{0,15}?(\d{3})`)
	windPattern     = regexp.MustCompile(`(?:ветер|wind)\D{0,15}?(\d+(?:[.,]\d+)?)\s*(?:м/с|m/s)`)
)

func (s PageSite) extract(doc *html.Node) (weather.Reading, error) {
	var (
		r     weather.Reading
		found bool
	)

	for _, probe := range s.Temperature {
		text, ok := probe(doc)
		if !ok {
			continue
		}
		if v, ok := common.ExtractFloat(text); ok && plausible(v) {
			r.Temperature, found = v, true
			break
		}
	}

	text := strings.ToLower(textOf(doc))

	if !found && s.ScanText {
		for _, m := range degreePattern.FindAllStringSubmatch(text, -1) {
			if v, ok := common.ExtractFloat(m[1]); ok && plausible(v) {
				r.Temperature, found = v, true
				break
			}
		}
	}
	if !found {
		return weather.Reading{}, unavailablef("%s page has no temperature", s.Name)
	}

	if m := humidityPattern.FindStringSubmatch(text); m != nil {
		if v, ok := common.ExtractInt(m[1]); ok && v >= 0 && v <= 100 {
			r.Humidity = weather.Float(float64(v))
		}
	}
	if m := pressurePattern.FindStringSubmatch(text); m != nil {
		if v, ok := common.ExtractInt(m[1]); ok && v >= 600 && v <= 800 {
			r.Pressure = weather.Float(float64(v))
		}
	}
	if m := windPattern.FindStringSubmatch(text); m != nil {
		if v, ok := common.ExtractFloat(m[1]); ok {
			r.WindSpeed = weather.Float(v)
		}
	}

	for _, probe := range s.Description {
		if d, ok := probe(doc); ok && d != "" {
			r.Description = common.Truncate(d, 100)
			break
		}
	}

	return r, nil
}

// MetaContent probes the content attribute of <meta property=...>.
func MetaContent(property string) Probe {
	return func(doc *html.Node) (string, bool) {
		n := findFirst(doc, func(n *html.Node) bool {
			return n.DataAtom == atom.Meta && attr(n, "property") == property
		})
		if n == nil {
			return "", false
		}
		m := degreePattern.FindStringSubmatch(attr(n, "content"))
		if m == nil {
			return "", false
		}
		return m[1], true
	}
}

// ElementText probes the text of the first tag element with class cls.
func ElementText(tag atom.Atom, cls string) Probe {
	return func(doc *html.Node) (string, bool) {
		n := findFirst(doc, func(n *html.Node) bool {
			return n.DataAtom == tag && hasClass(n, cls)
		})
		if n == nil {
			return "", false
		}
		t := textOf(n)
		return t, t != ""
	}
}

// ClassContainsText probes the first tag element whose class attribute
// contains sub, ignoring case.
func ClassContainsText(tag atom.Atom, sub string) Probe {
	return func(doc *html.Node) (string, bool) {
		n := findFirst(doc, func(n *html.Node) bool {
			return n.DataAtom == tag && common.ContainsFold(attr(n, "class"), sub)
		})
		if n == nil {
			return "", false
		}
		t := textOf(n)
		return t, t != ""
	}
}

// DegreeText probes the first tag element whose text carries a degree sign.
// With cls set, only elements of that class are considered.
func DegreeText(tag atom.Atom, cls string) Probe {
	return func(doc *html.Node) (string, bool) {
		var out string
		findFirst(doc, func(n *html.Node) bool {
			if n.DataAtom != tag || (cls != "" && !hasClass(n, cls)) {
				return false
			}
			t := textOf(n)
			if m := degreePattern.FindStringSubmatch(t); m != nil {
				out = m[1]
				return true
			}
			return false
		})
		return out, out != ""
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, cls string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == cls {
			return true
		}
	}
	return false
}

// textOf returns the visible text under n with whitespace collapsed.
func textOf(n *html.Node) string {
	var b strings.Builder
	collectText(n, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Noscript) {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
