package studio_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"creativeline/internal/domain"
	"creativeline/internal/studio"
)

func testAssets(products int) domain.AssetSet {
	set := domain.AssetSet{Logo: &domain.Asset{Name: "logo.png", Data: []byte("logo")}}
	for i := 0; i < products; i++ {
		set.Products = append(set.Products, domain.Asset{Name: "p.png", Data: []byte{byte('a' + i)}})
	}
	return set
}

func TestExtractSendsDraftFields(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/extract", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "Fresh Juice", r.FormValue("main_message"))
		require.Equal(t, "clean", r.FormValue("style"))
		require.Equal(t, "true", r.FormValue("confirm_people"))
		require.Equal(t, []string{"false"}, r.MultipartForm.Value["confirm_drinkaware"])
		for _, field := range []string{"sub_message", "cta_text", "badge_shape", "value_tile_type", "clubcard_price", "regular_price", "clubcard_end_date", "tesco_tag"} {
			require.Equal(t, []string{""}, r.MultipartForm.Value[field], field)
		}
		require.Empty(t, r.MultipartForm.File)
		require.Empty(t, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"main_message": "Fresh Juice", "style": "clean"})
	}))
	t.Cleanup(ts.Close)

	draft := domain.NewDraft()
	draft.MainMessage = "Fresh Juice"
	overrides := domain.Overrides{}
	overrides.Set(domain.OverrideConfirmPeople)

	spec, err := studio.New(ts.URL).Extract(context.Background(), domain.ExtractFields{Draft: draft, Overrides: overrides})
	require.NoError(t, err)
	require.Equal(t, "Fresh Juice", spec["main_message"])
}

func TestExtractFailureIsGeneric(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	_, err := studio.New(ts.URL).Extract(context.Background(), domain.ExtractFields{Draft: domain.NewDraft()})
	require.ErrorIs(t, err, studio.ErrExtractionFailed)
	var apiErr *studio.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestGenerateMultipartLayout(t *testing.T) {
	t.Parallel()

	var seen map[string]bool
	var receivedAuth string
	var spec map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate-images", r.URL.Path)
		receivedAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		seen = map[string]bool{}
		for field := range r.MultipartForm.File {
			seen[field] = true
		}
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("spec")), &spec))
		f, _, err := r.FormFile("product_image_2")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		require.Equal(t, []byte{'b'}, data)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"square": map[string]string{"png": "cG5n", "jpg": "anBn"},
			"story":  "c3Rvcnk=",
		})
	}))
	t.Cleanup(ts.Close)

	out, err := studio.New(ts.URL).Generate(context.Background(), domain.Spec{"main_message": "Hi", "confirm_people": true}, testAssets(2), "test-token")
	require.NoError(t, err)
	require.Equal(t, "Bearer test-token", receivedAuth)
	require.Equal(t, map[string]bool{"product_image": true, "product_image_2": true, "logo_image": true}, seen)
	require.Equal(t, true, spec["confirm_people"])

	require.Equal(t, domain.OutcomeResult, out.Kind)
	require.Nil(t, out.Verdict)
	require.Len(t, out.Result, 2)
	require.Len(t, out.Result["square"].Downloads("square"), 2)
	require.Equal(t, "c3Rvcnk=", out.Result["story"].Inline)
}

func TestGenerateAnonymousSingleProduct(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, extra := r.MultipartForm.File["product_image_2"]
		require.False(t, extra)
		_, _ = io.WriteString(w, `{"validation":{"valid":false,"errors":["Drinkaware lock-up missing"],"requires_confirmation":false,"requires_compliance":true}}`)
	}))
	t.Cleanup(ts.Close)

	out, err := studio.New(ts.URL).Generate(context.Background(), domain.Spec{}, testAssets(1), "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeInvalid, out.Kind)
	require.True(t, out.Verdict.RequiresCompliance)
	require.False(t, out.Verdict.RequiresConfirmation)
	require.Equal(t, []string{"Drinkaware lock-up missing"}, out.Verdict.Errors)
}

func TestGenerateFailureStatus(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(ts.Close)

	_, err := studio.New(ts.URL).Generate(context.Background(), domain.Spec{}, testAssets(1), "")
	require.ErrorIs(t, err, studio.ErrGenerationFailed)
}

func TestGenerateRequiresAssets(t *testing.T) {
	t.Parallel()

	_, err := studio.New("http://127.0.0.1:1").Generate(context.Background(), domain.Spec{}, domain.AssetSet{}, "")
	require.ErrorIs(t, err, studio.ErrMissingAssets)
}

func TestDecodeOutcomeValidVerdictKeepsResults(t *testing.T) {
	t.Parallel()

	out, err := studio.DecodeOutcome([]byte(`{"validation":{"valid":true,"errors":[]},"square":"iVBORw0KGgo="}`))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeResult, out.Kind)
	require.Equal(t, []string{"square"}, out.Result.Formats())
}

func TestCloudImagesSendsBearer(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cloud-images", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"_id":"1","format":"square","color":"#fff","batch_id":"b1","urls":{"png":"a.png"}},{"_id":"2","format":"story","color":"#000","url":"b.png"}]`)
	}))
	t.Cleanup(ts.Close)

	records, err := studio.New(ts.URL).CloudImages(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a.png", records[0].URLs[domain.EncodingPNG])
	require.Equal(t, "b.png", records[1].URL)
}

func TestDecodeOutcomeSkipsUnsafeAndMetadataKeys(t *testing.T) {
	t.Parallel()

	out, err := studio.DecodeOutcome([]byte(`{
		"square": {"png": "cG5n"},
		"../../../escaped": "cG5n",
		"story/x": {"jpg": "anBn"},
		"batch_id": "b-2024-01",
		"message": "rendered 1 format"
	}`))
	require.NoError(t, err)
	require.Equal(t, []string{"square"}, out.Result.Formats())
}

func TestConcurrentRequestsShareClient(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	t.Cleanup(ts.Close)

	c := studio.New(ts.URL)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.CloudImages(context.Background(), "tok")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
