package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"creativeline/internal/app"
	"creativeline/internal/db"
	"creativeline/internal/gallery"
	"creativeline/internal/migrate"
	"creativeline/internal/repo"
	"creativeline/internal/studio"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

// fakeRenderer asks for the Drinkaware acknowledgement until the spec
// carries it, then renders a square creative in both encodings.
func fakeRenderer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/extract", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"main_message": r.FormValue("main_message")})
	})
	mux.HandleFunc("/generate-images", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var spec map[string]any
		json.Unmarshal([]byte(r.FormValue("spec")), &spec)
		if spec["confirm_drinkaware"] != true {
			io.WriteString(w, `{"validation":{"valid":false,"errors":["Drinkaware lock-up missing"],"requires_confirmation":false,"requires_compliance":true}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"square": map[string]string{
				"png": base64.StdEncoding.EncodeToString([]byte("png-bytes")),
				"jpg": base64.StdEncoding.EncodeToString([]byte("jpg-bytes")),
			},
		})
	})
	mux.HandleFunc("/cloud-images", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `[{"_id":"1","format":"square","color":"#111111","url":"a.png"},{"_id":"2","format":"story","color":"#222222","batch_id":"b1","urls":{"jpg":"b.jpg"}}]`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	client := studio.New(fakeRenderer(t).URL)
	st := app.NewStudio(repo.Repo{DB: conn}, client, zerolog.Nop(), 0)
	handler, err := New(Config{
		Studio:   st,
		Gallery:  gallery.Service{Client: client, Log: zerolog.Nop()},
		BasePath: "/v0",
		Log:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doRequest(t *testing.T, client *http.Client, method, url, contentType string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = b
	}
	return doRequest(t, client, method, url, "application/json", payload, headers)
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return v
}

func TestComplianceConfirmationOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/drafts", map[string]any{"main_message": "Premium Gin Offer"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	created := decode[DraftResponse](t, data)
	if !created.AlcoholAdvisory || created.State != "idle" || created.Draft.Style != "clean" {
		t.Fatalf("unexpected draft: %+v", created)
	}
	base := srv.URL + "/v0/drafts/" + created.ID

	res, data = doJSON(t, client, http.MethodPost, base+"/submit", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected missing assets, got %d: %s", res.StatusCode, data)
	}
	envelope := decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data)
	if envelope.Error.Code != "missing_assets" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}

	for slot, content := range map[string]string{"logo": "logo-bytes", "product_1": "product-bytes"} {
		res, data = doRequest(t, client, http.MethodPut, base+"/assets/"+slot+"?name="+slot+".png", "application/octet-stream", []byte(content), nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("upload %s status %d: %s", slot, res.StatusCode, data)
		}
	}
	if ready := decode[DraftResponse](t, data); !ready.Ready || len(ready.Assets) != 2 {
		t.Fatalf("assets not stored: %+v", ready.Assets)
	}
	res, data = doRequest(t, client, http.MethodPut, base+"/assets/product_9", "application/octet-stream", []byte("x"), nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad slot rejection, got %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/submit", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, data)
	}
	submitted := decode[SubmitResponse](t, data)
	if submitted.Draft.State != "awaiting_compliance" || len(submitted.Draft.Pending) != 1 || submitted.Draft.Pending[0] != "acknowledge_compliance" {
		t.Fatalf("unexpected state after submit: %+v", submitted.Draft)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/retry", map[string]any{"actions": []string{"confirm_people"}}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected unavailable action, got %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/retry", map[string]any{"actions": []string{"acknowledge_compliance"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("retry status %d: %s", res.StatusCode, data)
	}
	retried := decode[SubmitResponse](t, data)
	if retried.Draft.State != "succeeded" || retried.Attempt.Number != 2 {
		t.Fatalf("unexpected retry outcome: %+v", retried)
	}
	if len(retried.Draft.Results) != 1 || len(retried.Draft.Results[0].Downloads) != 2 {
		t.Fatalf("expected square in two encodings: %+v", retried.Draft.Results)
	}

	res, data = doRequest(t, client, http.MethodGet, base+"/downloads/square/jpg", "", nil, nil)
	if res.StatusCode != http.StatusOK || string(data) != "jpg-bytes" {
		t.Fatalf("download status %d: %q", res.StatusCode, data)
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("unexpected content type %s", ct)
	}

	// Edits keep the acknowledged flag.
	res, data = doJSON(t, client, http.MethodPatch, base, map[string]any{"cta_text": "Shop now"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, data)
	}
	if edited := decode[DraftResponse](t, data); len(edited.Overrides) != 1 || edited.Overrides[0] != "confirm_drinkaware" {
		t.Fatalf("override lost on edit: %+v", edited.Overrides)
	}
	res, _ = doJSON(t, client, http.MethodPatch, base, map[string]any{"confirm_people": true}, nil)
	if res.StatusCode < 400 {
		t.Fatalf("override must not be settable through edits, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/events?limit=10", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, data)
	}
	evts := decode[paginatedEvents](t, data)
	if len(evts.Items) == 0 || evts.Items[0].Type != "draft.updated" {
		t.Fatalf("unexpected events: %+v", evts.Items)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/attempts", nil, nil)
	if attempts := decode[[]AttemptResponse](t, data); res.StatusCode != http.StatusOK || len(attempts) != 2 {
		t.Fatalf("attempts status %d: %s", res.StatusCode, data)
	}
}

func TestGalleryRequiresBearer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/gallery", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/gallery", nil, map[string]string{"Authorization": "Basic abc"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-bearer scheme, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/gallery", nil, map[string]string{"Authorization": "Bearer tok"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("gallery status %d: %s", res.StatusCode, data)
	}
	batches := decode[[]BatchResponse](t, data)
	if len(batches) != 2 || batches[0].Key != "b1" || !batches[1].Fallback {
		t.Fatalf("unexpected batches: %+v", batches)
	}
	if batches[0].Records[0].Location != "b.jpg" || len(batches[1].Records[0].Downloads) != 0 {
		t.Fatalf("unexpected record resolution: %+v", batches)
	}
}

func TestHealthAndPrescreen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/prescreen", map[string]any{"main_message": "Ginger biscuits"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("prescreen status %d: %s", res.StatusCode, data)
	}
	if got := decode[map[string]bool](t, data); got["alcohol_advisory"] {
		t.Fatalf("ginger must not match gin")
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !bytes.Contains(data, []byte("/v0/drafts/{id}/retry")) {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/drafts/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	bodies := make(chan []byte, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				bodies <- nil
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			bodies <- data
		}()
	}
	wg.Wait()
	close(bodies)
	var first []byte
	for data := range bodies {
		if !bytes.Contains(data, []byte("bearerAuth")) {
			t.Fatalf("incomplete openapi document: %.80s", data)
		}
		if first == nil {
			first = data
		} else if !bytes.Equal(first, data) {
			t.Fatalf("openapi document differs between requests")
		}
	}
}
