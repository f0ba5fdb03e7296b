// Package extract turns a fetched HTML document into a structured result
// according to an extraction plan. Element categories are independent: a
// failure in one category never aborts the others, and absent content shows
// up as empty collections rather than errors. Only a whole-document parse
// failure produces an error result.
package extract

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
)

const (
	maxImages  = 50
	maxLinks   = 50
	maxAltLen  = 100
	maxLinkLen = 200
)

// Extractor runs extraction plans against HTML documents. It is safe for
// concurrent use; the sanitizer and markdown converter it carries are
// stateless per call.
type Extractor struct {
	sanitize *bluemonday.Policy
	md       *converter.Converter
}

// New builds an Extractor. Raw HTML fragments that get re-served through
// the API (tables, custom selections) pass through a UGC sanitation policy
// first, since stored pages are untrusted input.
func New() *Extractor {
	return &Extractor{
		sanitize: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Extract parses body and runs the plan against it. Metadata extraction
// always runs regardless of plan. sourceURL anchors relative references and
// is recorded on the result.
func (e *Extractor) Extract(body []byte, plan Plan, sourceURL string) Result {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ErrorResult(sourceURL, "parse document: "+err.Error())
	}

	res := Result{
		Status:    StatusSuccess,
		SourceURL: sourceURL,
		FetchedAt: time.Now().UTC(),
	}

	var baseURL *url.URL
	if u, err := url.Parse(sourceURL); err == nil && u.Scheme != "" {
		baseURL = u
	}

	// Metadata first: exclude selectors must not be able to strip it.
	res.Metadata = extractMetadata(doc)

	e.applyExcludes(doc, plan.Filters.ExcludeSelectors)

	if plan.Has(ElementText) {
		e.extractText(doc, &res)
	}
	if plan.Has(ElementImages) {
		res.Images = extractImages(doc, baseURL)
	}
	if plan.Has(ElementLinks) {
		res.Links = extractLinks(doc, baseURL)
	}
	if plan.Has(ElementTables) {
		res.Tables = e.extractTables(doc)
	}
	if plan.Has(ElementCustom) {
		res.Custom = e.extractCustom(doc, plan.Filters.IncludeSelectors)
	}
	return res
}

// applyExcludes prunes nodes matching the exclude selectors before any
// category runs. Selectors that fail to compile are skipped.
func (e *Extractor) applyExcludes(doc *goquery.Document, selectors []string) {
	for _, s := range selectors {
		m, err := cascadia.Compile(s)
		if err != nil {
			log.Debug().Str("selector", s).Err(err).Msg("extract: skipping bad exclude selector")
			continue
		}
		doc.FindMatcher(m).Remove()
	}
}

func extractMetadata(doc *goquery.Document) Metadata {
	return Metadata{
		Title:         collapseSpaces(strings.TrimSpace(doc.Find("title").First().Text())),
		Description:   metaContent(doc, `meta[name="description"]`),
		Keywords:      metaContent(doc, `meta[name="keywords"]`),
		OGTitle:       metaContent(doc, `meta[property="og:title"]`),
		OGDescription: metaContent(doc, `meta[property="og:description"]`),
		OGImage:       metaContent(doc, `meta[property="og:image"]`),
	}
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}

// extractText tries article-style main-content isolation first and falls
// back to concatenating heading and paragraph text when no content root
// yields anything usable.
func (e *Extractor) extractText(doc *goquery.Document, res *Result) {
	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("article").First()
	}
	if root.Length() > 0 {
		if body := articleText(root.Get(0)); body != "" {
			title := res.Metadata.Title
			if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); title == "" && h1 != "" {
				title = collapseSpaces(h1)
			}
			res.Article = &Article{Title: title, Body: body}
			return
		}
	}

	var parts []string
	doc.Find("p, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	res.Text = collapseSpaces(strings.Join(parts, " "))
}

// extractImages collects image references in document order, preferring src
// and falling back to common lazy-load attributes, capped at maxImages.
func extractImages(doc *goquery.Document, baseURL *url.URL) []Image {
	var images []Image
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := s.AttrOr("src", "")
		if src == "" {
			src = s.AttrOr("data-src", "")
		}
		if src == "" {
			src = s.AttrOr("data-lazy-src", "")
		}
		if src == "" {
			return true
		}
		resolved := resolveRef(baseURL, src)
		if resolved == "" {
			return true
		}
		images = append(images, Image{
			Src:    resolved,
			Alt:    truncateRunes(s.AttrOr("alt", ""), maxAltLen),
			Width:  s.AttrOr("width", ""),
			Height: s.AttrOr("height", ""),
		})
		return len(images) < maxImages
	})
	return images
}

// extractLinks collects anchors with a usable href in document order,
// skipping fragment and javascript: pseudo-links, capped at maxLinks.
func extractLinks(doc *goquery.Document, baseURL *url.URL) []Link {
	var links []Link
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return true
		}
		resolved := resolveRef(baseURL, href)
		if resolved == "" {
			return true
		}
		links = append(links, Link{
			Text: truncateRunes(collapseSpaces(strings.TrimSpace(s.Text())), maxLinkLen),
			Href: resolved,
		})
		return len(links) < maxLinks
	})
	return links
}

// extractCustom collects text and sanitized HTML of every element matching
// each include selector, tagged with the selector that produced it.
// Selectors that fail to compile are skipped without affecting the rest.
func (e *Extractor) extractCustom(doc *goquery.Document, selectors []string) []Fragment {
	var fragments []Fragment
	for _, sel := range selectors {
		m, err := cascadia.Compile(sel)
		if err != nil {
			log.Debug().Str("selector", sel).Err(err).Msg("extract: skipping bad include selector")
			continue
		}
		doc.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
			raw, err := goquery.OuterHtml(s)
			if err != nil {
				return
			}
			fragments = append(fragments, Fragment{
				Selector: sel,
				Text:     collapseSpaces(strings.TrimSpace(s.Text())),
				HTML:     strings.TrimSpace(e.sanitize.Sanitize(raw)),
			})
		})
	}
	return fragments
}

// resolveRef resolves ref against baseURL. With no usable base the ref is
// returned as-is; an unparsable ref resolves to empty and gets dropped by
// the caller.
func resolveRef(baseURL *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if baseURL == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(u).String()
}
