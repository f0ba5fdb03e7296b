package extract

import "strings"

// ElementKind names a content category the extractor can pull from a page.
type ElementKind string

const (
	ElementText   ElementKind = "text"
	ElementImages ElementKind = "images"
	ElementTables ElementKind = "tables"
	ElementLinks  ElementKind = "links"
	ElementCustom ElementKind = "custom"
)

// StructuredFormat hints how the caller wants structured output shaped.
type StructuredFormat string

const (
	FormatList  StructuredFormat = "list"
	FormatDict  StructuredFormat = "dict"
	FormatTable StructuredFormat = "table"
)

// Filters carries CSS selectors that steer extraction. Include selectors
// feed the custom element category; exclude selectors prune matching nodes
// from the document before anything else runs.
type Filters struct {
	IncludeSelectors []string `json:"include_selectors,omitempty" yaml:"include_selectors"`
	ExcludeSelectors []string `json:"exclude_selectors,omitempty" yaml:"exclude_selectors"`
}

// Plan selects which element categories to extract. Plans arrive from
// outside the trust boundary (request bodies, model output) and must go
// through Normalize before use; after that they are treated as immutable.
type Plan struct {
	Elements         []ElementKind    `json:"elements"`
	Filters          Filters          `json:"filters"`
	StructuredFormat StructuredFormat `json:"structured_format,omitempty"`
}

// DefaultPlan is the safe fallback used whenever no usable plan is
// available: text, images, and links with no selector filters.
func DefaultPlan() Plan {
	return Plan{
		Elements:         []ElementKind{ElementText, ElementImages, ElementLinks},
		StructuredFormat: FormatList,
	}
}

// Has reports whether the plan selects the given element kind.
func (p Plan) Has(kind ElementKind) bool {
	for _, e := range p.Elements {
		if e == kind {
			return true
		}
	}
	return false
}

// Normalize returns a cleaned copy of the plan: unknown element kinds and
// blank selectors are dropped, duplicates removed, and the structured format
// coerced to a known value. An empty element set collapses to DefaultPlan.
func (p Plan) Normalize() Plan {
	out := Plan{StructuredFormat: p.StructuredFormat}
	seen := map[ElementKind]bool{}
	for _, e := range p.Elements {
		kind := ElementKind(strings.ToLower(strings.TrimSpace(string(e))))
		switch kind {
		case ElementText, ElementImages, ElementTables, ElementLinks, ElementCustom:
			if !seen[kind] {
				seen[kind] = true
				out.Elements = append(out.Elements, kind)
			}
		}
	}
	out.Filters.IncludeSelectors = cleanSelectors(p.Filters.IncludeSelectors)
	out.Filters.ExcludeSelectors = cleanSelectors(p.Filters.ExcludeSelectors)
	switch out.StructuredFormat {
	case FormatList, FormatDict, FormatTable:
	default:
		out.StructuredFormat = FormatList
	}
	if len(out.Elements) == 0 {
		def := DefaultPlan()
		def.Filters = out.Filters
		def.StructuredFormat = out.StructuredFormat
		return def
	}
	return out
}

func cleanSelectors(in []string) []string {
	var out []string
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
