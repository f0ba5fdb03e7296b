package server

import (
	"encoding/csv"
	"io"
	"sort"

	"github.com/hyperifyio/webtapi/internal/extract"
)

// writeCSV renders the most tabular part of a result as CSV: the first
// extracted table when present, otherwise links, otherwise images, falling
// back to metadata field/value pairs.
func writeCSV(w io.Writer, res *extract.Result) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	switch {
	case len(res.Tables) > 0:
		return writeTableCSV(cw, res.Tables[0])
	case len(res.Links) > 0:
		if err := cw.Write([]string{"text", "href"}); err != nil {
			return err
		}
		for _, l := range res.Links {
			if err := cw.Write([]string{l.Text, l.Href}); err != nil {
				return err
			}
		}
	case len(res.Images) > 0:
		if err := cw.Write([]string{"src", "alt", "width", "height"}); err != nil {
			return err
		}
		for _, img := range res.Images {
			if err := cw.Write([]string{img.Src, img.Alt, img.Width, img.Height}); err != nil {
				return err
			}
		}
	default:
		if err := cw.Write([]string{"field", "value"}); err != nil {
			return err
		}
		m := res.Metadata
		for _, pair := range [][2]string{
			{"title", m.Title},
			{"description", m.Description},
			{"keywords", m.Keywords},
			{"og_title", m.OGTitle},
			{"og_description", m.OGDescription},
			{"og_image", m.OGImage},
			{"source_url", res.SourceURL},
		} {
			if err := cw.Write(pair[:]); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeTableCSV emits one extracted table with a stable column order taken
// from the first row's sorted keys.
func writeTableCSV(cw *csv.Writer, t extract.Table) error {
	if len(t.Rows) == 0 {
		return nil
	}
	headers := make([]string, 0, len(t.Rows[0]))
	for h := range t.Rows[0] {
		headers = append(headers, h)
	}
	sort.Strings(headers)
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, row := range t.Rows {
		record := make([]string, len(headers))
		for i, h := range headers {
			record[i] = row[h]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
