package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractTables parses every table in document order into three renderings.
// A table that cannot be parsed is skipped silently; one bad table never
// fails the extraction.
func (e *Extractor) extractTables(doc *goquery.Document) []Table {
	var tables []Table
	doc.Find("table").Each(func(_ int, s *goquery.Selection) {
		rows, err := tableRows(s)
		if err != nil {
			return
		}
		raw, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		markdown, err := e.md.ConvertString(raw)
		if err != nil {
			return
		}
		tables = append(tables, Table{
			HTML:     strings.TrimSpace(e.sanitize.Sanitize(raw)),
			Markdown: strings.TrimSpace(markdown),
			Rows:     rows,
		})
	})
	return tables
}

// tableRows converts a table into rows of header-keyed cells. The first row
// supplies column names (th preferred, td accepted); every later row with
// cells becomes one map. Tables without a header row or without any data
// rows are reported as unparsable.
func tableRows(s *goquery.Selection) ([]map[string]string, error) {
	trs := s.Find("tr")
	if trs.Length() < 2 {
		return nil, errors.New("table has no data rows")
	}

	var headers []string
	first := trs.First()
	cells := first.Find("th")
	if cells.Length() == 0 {
		cells = first.Find("td")
	}
	cells.Each(func(i int, c *goquery.Selection) {
		name := collapseSpaces(strings.TrimSpace(c.Text()))
		if name == "" {
			name = fmt.Sprintf("col_%d", i+1)
		}
		headers = append(headers, name)
	})
	if len(headers) == 0 {
		return nil, errors.New("table has no header cells")
	}

	var rows []map[string]string
	trs.Slice(1, trs.Length()).Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td, th")
		if tds.Length() == 0 {
			return
		}
		row := make(map[string]string, len(headers))
		tds.Each(func(i int, td *goquery.Selection) {
			name := fmt.Sprintf("col_%d", i+1)
			if i < len(headers) {
				name = headers[i]
			}
			row[name] = collapseSpaces(strings.TrimSpace(td.Text()))
		})
		rows = append(rows, row)
	})
	if len(rows) == 0 {
		return nil, errors.New("table has no data rows")
	}
	return rows, nil
}
