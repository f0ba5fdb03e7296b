package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperifyio/webtapi/internal/app"
	"github.com/hyperifyio/webtapi/internal/fetch"
	"github.com/hyperifyio/webtapi/internal/store"
)

const fixturePage = `<!doctype html>
<html>
  <head><title>Fixture</title></head>
  <body>
    <main><p>Fixture body text for the HTTP round trip.</p></main>
    <a href="/one">One</a>
    <a href="/two">Two</a>
    <table>
      <tr><th>Name</th><th>Qty</th></tr>
      <tr><td>Bolt</td><td>12</td></tr>
      <tr><td>Nut</td><td>40</td></tr>
    </table>
  </body>
</html>`

func newTestServer(t *testing.T) (string, string) {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(fixturePage))
	}))
	t.Cleanup(origin.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "pages.db"), time.Hour)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	a := app.New(&fetch.Client{MaxAttempts: 1, Timeout: 2 * time.Second}, nil, st)
	a.Guard.AllowPrivate = true

	api := httptest.NewServer((&Server{App: a, Version: "test"}).Router())
	t.Cleanup(api.Close)
	return api.URL, origin.URL
}

func postGenerate(t *testing.T, api, body string) (*http.Response, generateResponse) {
	t.Helper()
	resp, err := http.Post(api+"/generate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post /generate: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out generateResponse
	if resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, out
}

func TestGenerateThenLookupJSON(t *testing.T) {
	api, origin := newTestServer(t)

	resp, gen := postGenerate(t, api, `{"url": "`+origin+`/page", "plan": {"elements": ["text", "links", "tables"]}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if gen.APIKey == "" || gen.APIEndpoint != "/api/"+gen.APIKey {
		t.Fatalf("bad generate response: %+v", gen)
	}
	if gen.SampleData.Status != "success" {
		t.Fatalf("sample data status = %s", gen.SampleData.Status)
	}

	lr, err := http.Get(api + gen.APIEndpoint)
	if err != nil {
		t.Fatalf("get %s: %v", gen.APIEndpoint, err)
	}
	defer lr.Body.Close()
	if lr.StatusCode != http.StatusOK {
		t.Fatalf("lookup status = %d", lr.StatusCode)
	}
	if ct := lr.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}
	var body struct {
		Metadata struct {
			Title string `json:"title"`
		} `json:"metadata"`
		Links  []struct{ Text, Href string } `json:"links"`
		Tables []struct {
			Rows []map[string]string `json:"rows"`
		} `json:"tables"`
	}
	if err := json.NewDecoder(lr.Body).Decode(&body); err != nil {
		t.Fatalf("decode lookup: %v", err)
	}
	if body.Metadata.Title != "Fixture" {
		t.Errorf("title = %q", body.Metadata.Title)
	}
	if len(body.Links) != 2 {
		t.Errorf("links = %d", len(body.Links))
	}
	if len(body.Tables) != 1 || len(body.Tables[0].Rows) != 2 {
		t.Errorf("tables = %+v", body.Tables)
	}
}

func TestLookupCSV(t *testing.T) {
	api, origin := newTestServer(t)
	_, gen := postGenerate(t, api, `{"url": "`+origin+`", "plan": {"elements": ["tables"]}, "output_format": "csv"}`)
	if !strings.HasSuffix(gen.APIEndpoint, "?format=csv") {
		t.Fatalf("csv output_format should shape the endpoint, got %q", gen.APIEndpoint)
	}

	lr, err := http.Get(api + gen.APIEndpoint)
	if err != nil {
		t.Fatalf("get csv: %v", err)
	}
	defer lr.Body.Close()
	if ct := lr.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(lr.Body); err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines: %q", len(lines), buf.String())
	}
	if strings.TrimSpace(lines[0]) != "Name,Qty" {
		t.Errorf("header = %q", lines[0])
	}
	if strings.TrimSpace(lines[1]) != "Bolt,12" {
		t.Errorf("first row = %q", lines[1])
	}
}

func TestLookupCSVViaAcceptHeader(t *testing.T) {
	api, origin := newTestServer(t)
	_, gen := postGenerate(t, api, `{"url": "`+origin+`", "plan": {"elements": ["links"]}}`)

	req, _ := http.NewRequest(http.MethodGet, api+gen.APIEndpoint, nil)
	// Browsers send a list; text/csv anywhere in it selects CSV.
	req.Header.Set("Accept", "text/csv, */*;q=0.8")
	lr, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer lr.Body.Close()
	if ct := lr.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(lr.Body)
	if !strings.HasPrefix(buf.String(), "text,href") {
		t.Fatalf("expected links csv, got %q", buf.String())
	}
}

func TestLookup_UnknownKey404(t *testing.T) {
	api, _ := newTestServer(t)
	lr, err := http.Get(api + "/api/" + strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer lr.Body.Close()
	if lr.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", lr.StatusCode)
	}
	var body map[string]errorBody
	if err := json.NewDecoder(lr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"].Kind != app.KindNotFound {
		t.Fatalf("kind = %s", body["error"].Kind)
	}
}

func TestGenerate_InvalidInputs(t *testing.T) {
	api, _ := newTestServer(t)
	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"url": `, http.StatusBadRequest},
		{"missing url", `{}`, http.StatusBadRequest},
		{"unsafe url", `{"url": "https://example.com/<script>"}`, http.StatusBadRequest},
		{"ftp scheme", `{"url": "ftp://example.com/f"}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp, _ := postGenerate(t, api, c.body)
			if resp.StatusCode != c.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, c.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	api, _ := newTestServer(t)
	resp, err := http.Get(api + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("body = %v", body)
	}
}
