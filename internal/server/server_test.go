package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"

	"gridgallery/internal/gallery"
	"gridgallery/internal/grid"
	"gridgallery/internal/presets"
	"gridgallery/internal/ratelimit"
	"gridgallery/internal/registry"
)

const testPresets = `[
  {
    "id": "FLUX.1-dev",
    "displayName": "FLUX.1 Dev",
    "type": "image",
    "description": "Image generation model",
    "defaults": {"width": 1024, "height": 1024, "steps": 25, "cfgScale": 3.5, "sampler": "euler", "scheduler": "simple"},
    "limits": {"steps": {"min": 10, "max": 50, "step": 1}, "cfgScale": {"min": 1, "max": 10, "step": 0.5}}
  },
  {
    "id": "wan2.2_ti2v_5B",
    "displayName": "WAN 2.2 TI2V 5B",
    "type": "video",
    "description": "Video generation model",
    "defaults": {"width": 704, "height": 704, "steps": 20, "cfgScale": 5, "sampler": "uni_pc", "scheduler": "simple", "length": 81, "fps": 16},
    "limits": {"length": {"min": 17, "max": 121, "step": 4}}
  }
]`

// newTestGrid serves the three grid endpoints the server talks to. Only the
// job id "job-123" exists.
func newTestGrid(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/generate/async", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"id":"job-123","message":"queued"}`)
	})
	mux.HandleFunc("/generate/status/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/generate/status/")
		if id != "job-123" {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "job-123",
			"done": true,
			"finished": 1,
			"generations": [
				{"id": "gen-1", "img_url": "https://worker.example/outputs/gen-1.webp", "mime": "image/webp", "seed": 42}
			]
		}`)
	})
	mux.HandleFunc("/status/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"name": "FLUX.1-dev", "count": 2, "queued": 5, "eta": 30},
			{"name": "wan2_2_ti2v_5b", "count": "1", "queued": "0", "eta": "0"}
		]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type serverOptions struct {
	gridAPIKey string
	limiter    *ratelimit.SubmitLimiter
	registry   *registry.Client
	stylesPath string
}

func newTestServer(t *testing.T, gridURL string, opts serverOptions) *Server {
	t.Helper()
	dir := t.TempDir()

	presetPath := filepath.Join(dir, "presets.json")
	if err := os.WriteFile(presetPath, []byte(testPresets), 0o644); err != nil {
		t.Fatalf("write presets: %v", err)
	}
	catalog, err := presets.LoadCatalog(presetPath)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	store, err := gallery.NewFileStore(filepath.Join(dir, "gallery.json"), 100)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	return New(Config{
		Catalog:    catalog,
		Gallery:    store,
		Grid:       grid.NewClient(gridURL, "test-agent:v1", ""),
		Registry:   opts.registry,
		Limiter:    opts.limiter,
		GridAPIKey: opts.gridAPIKey,
		StylesPath: opts.stylesPath,
	})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	rec := doJSON(t, s.Router(), http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
}

func TestListModels(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/models", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list models returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Models      []ModelView `json:"models"`
		ChainSource bool        `json:"chainSource"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(resp.Models))
	}
	if resp.ChainSource {
		t.Fatalf("chain source should be off without a registry client")
	}
	flux := resp.Models[0]
	if flux.ID != "FLUX.1-dev" {
		t.Fatalf("expected FLUX.1-dev first, got %s", flux.ID)
	}
	if flux.Status != "online" || flux.OnlineWorkers != 2 {
		t.Fatalf("unexpected flux availability: %s/%d", flux.Status, flux.OnlineWorkers)
	}
	wan := resp.Models[1]
	if wan.Status != "online" || wan.OnlineWorkers != 1 {
		t.Fatalf("alias lookup failed for wan preset: %s/%d", wan.Status, wan.OnlineWorkers)
	}
}

func TestStylesServedVerbatim(t *testing.T) {
	stylesPath := filepath.Join(t.TempDir(), "styles.json")
	raw := `[{"id":"cinematic","name":"Cinematic"}]`
	if err := os.WriteFile(stylesPath, []byte(raw), 0o644); err != nil {
		t.Fatalf("write styles: %v", err)
	}
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key", stylesPath: stylesPath})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/styles", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("styles returned %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type %q", got)
	}
	if rec.Body.String() != raw {
		t.Fatalf("styles must be served verbatim, got %s", rec.Body.String())
	}
}

func TestStylesMissingFile(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key", stylesPath: "does/not/exist.json"})
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/styles", nil, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("missing styles file should 500, got %d", rec.Code)
	}
}

func TestGetModelNotFound(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/models/nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// fakeChainCaller serves one registered model with generation constraints.
// Tuple fields mirror the registry contract outputs.
type fakeChainCaller struct{}

func (fakeChainCaller) Call(_ context.Context, result *[]interface{}, method string, _ ...interface{}) error {
	switch method {
	case "getModelCount":
		*result = []interface{}{big.NewInt(1)}
	case "getModel":
		var hash [32]byte
		copy(hash[:], "flux-hash")
		*result = []interface{}{struct {
			ModelHash    [32]byte
			ModelType    uint8
			FileName     string
			Name         string
			Version      string
			IpfsCid      string
			DownloadUrl  string
			SizeBytes    *big.Int
			Quantization string
			Format       string
			VramMB       uint32
			BaseModel    string
			Inpainting   bool
			Img2img      bool
			Controlnet   bool
			Lora         bool
			IsActive     bool
			IsNSFW       bool
			Timestamp    *big.Int
			Creator      common.Address
		}{
			ModelHash: hash,
			ModelType: 1,
			FileName:  "flux1-dev.safetensors",
			Name:      "FLUX.1-dev",
			SizeBytes: big.NewInt(1024),
			Timestamp: big.NewInt(1700000000),
			IsActive:  true,
		}}
	case "getConstraints":
		*result = []interface{}{struct {
			StepsMin          uint16
			StepsMax          uint16
			CfgMinTenths      uint16
			CfgMaxTenths      uint16
			ClipSkip          uint8
			AllowedSamplers   [][32]byte
			AllowedSchedulers [][32]byte
			Exists            bool
		}{StepsMin: 15, StepsMax: 40, CfgMinTenths: 20, CfgMaxTenths: 80, ClipSkip: 2, Exists: true}}
	default:
		return fmt.Errorf("unexpected method %q", method)
	}
	return nil
}

func TestGetModelAttachesConstraints(t *testing.T) {
	reg := registry.NewClientWithCaller(fakeChainCaller{}, registry.Options{CacheTTL: time.Hour})
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key", registry: reg})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/models/FLUX.1-dev", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get model returned %d: %s", rec.Code, rec.Body.String())
	}
	var view ModelView
	decodeBody(t, rec, &view)
	if !view.OnChain {
		t.Fatalf("expected onChain for a registered model")
	}
	if view.Constraints == nil {
		t.Fatalf("expected constraints attached: %s", rec.Body.String())
	}
	if view.Constraints.StepsMin != 15 || view.Constraints.StepsMax != 40 {
		t.Fatalf("unexpected constraints: %+v", view.Constraints)
	}
	if view.Limits.Steps == nil || view.Limits.Steps.Min != 15 || view.Limits.Steps.Max != 40 {
		t.Fatalf("steps limit should narrow to 15..40, got %+v", view.Limits.Steps)
	}
	if view.Limits.CfgScale == nil || view.Limits.CfgScale.Min != 2.0 || view.Limits.CfgScale.Max != 8.0 {
		t.Fatalf("cfg limit should narrow to 2..8, got %+v", view.Limits.CfgScale)
	}

	preset, _ := s.catalog.Get("FLUX.1-dev")
	if preset.Limits.Steps.Min != 10 || preset.Limits.Steps.Max != 50 {
		t.Fatalf("catalog limits must stay untouched, got %+v", preset.Limits.Steps)
	}
}

func TestCreateJobValidation(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/jobs",
		CreateJobRequest{ModelID: "FLUX.1-dev"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing prompt should 400, got %d", rec.Code)
	}

	rec = doJSON(t, s.Router(), http.MethodPost, "/api/jobs",
		CreateJobRequest{ModelID: "no-such-model", Prompt: "a cat"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown model should 400, got %d", rec.Code)
	}
}

func TestCreateJobRequiresAPIKey(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{})
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/jobs",
		CreateJobRequest{ModelID: "FLUX.1-dev", Prompt: "a cat"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing api key should 400, got %d", rec.Code)
	}
}

func TestCreateJobSubmits(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/jobs",
		CreateJobRequest{ModelID: "FLUX.1-dev", Prompt: "a cat"}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["jobId"] != "job-123" || resp["status"] != gallery.JobQueued {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestCreateJobRateLimited(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewSubmitLimiter(redis.Addr(), "", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key", limiter: limiter})

	req := CreateJobRequest{ModelID: "FLUX.1-dev", Prompt: "a cat", WalletAddress: "0xABC"}
	if rec := doJSON(t, s.Router(), http.MethodPost, "/api/jobs", req, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("first submission should pass, got %d", rec.Code)
	}
	if rec := doJSON(t, s.Router(), http.MethodPost, "/api/jobs", req, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second submission should 429, got %d", rec.Code)
	}
}

func TestJobStatusView(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/jobs/job-123", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view JobView
	decodeBody(t, rec, &view)
	if view.Status != gallery.JobCompleted {
		t.Fatalf("expected completed, got %s", view.Status)
	}
	if len(view.Generations) != 1 || view.Generations[0].URL != "https://worker.example/outputs/gen-1.webp" {
		t.Fatalf("unexpected generations: %+v", view.Generations)
	}
	if view.Generations[0].Kind != gallery.TypeImage {
		t.Fatalf("expected image kind, got %s", view.Generations[0].Kind)
	}
}

func TestJobStatusUpstreamError(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/jobs/missing", nil, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func addItem(t *testing.T, s *Server, req AddItemRequest) {
	t.Helper()
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/gallery", req, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add item returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGalleryAddAndList(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	addItem(t, s, AddItemRequest{JobID: "a", Prompt: "sunrise over water", Public: true, WalletAddress: "0xABC"})
	addItem(t, s, AddItemRequest{JobID: "b", Prompt: "private drawing", Public: false, WalletAddress: "0xABC"})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/gallery", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var result gallery.ListResult
	decodeBody(t, rec, &result)
	if result.Total != 1 || len(result.Items) != 1 || result.Items[0].JobID != "a" {
		t.Fatalf("public listing should hold only item a: %+v", result)
	}

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/gallery/a", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get item returned %d", rec.Code)
	}
	rec = doJSON(t, s.Router(), http.MethodGet, "/api/gallery/nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("absent item should 404, got %d", rec.Code)
	}
}

func TestGalleryAddRequiresJobAndPrompt(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/gallery", AddItemRequest{Prompt: "x"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing jobId should 400, got %d", rec.Code)
	}
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/gallery", AddItemRequest{JobID: "x"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing prompt should 400, got %d", rec.Code)
	}
}

func TestGalleryDeleteOwnership(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	addItem(t, s, AddItemRequest{JobID: "owned", Prompt: "x", Public: true, WalletAddress: "0xABC"})

	rec := doJSON(t, s.Router(), http.MethodDelete, "/api/gallery/owned", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("delete without wallet should 401, got %d", rec.Code)
	}
	rec = doJSON(t, s.Router(), http.MethodDelete, "/api/gallery/owned", nil,
		map[string]string{"X-Wallet-Address": "0xDEF"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("delete by non-owner should 403, got %d", rec.Code)
	}
	rec = doJSON(t, s.Router(), http.MethodDelete, "/api/gallery/missing", nil,
		map[string]string{"X-Wallet-Address": "0xABC"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete of absent item should 404, got %d", rec.Code)
	}
	rec = doJSON(t, s.Router(), http.MethodDelete, "/api/gallery/owned", nil,
		map[string]string{"X-Wallet-Address": "0xabc"})
	if rec.Code != http.StatusOK {
		t.Fatalf("owner delete should pass regardless of case, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec = doJSON(t, s.Router(), http.MethodGet, "/api/gallery/owned", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted item should be gone, got %d", rec.Code)
	}
}

func TestGalleryDeleteLegacyItemWithoutOwner(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	addItem(t, s, AddItemRequest{JobID: "legacy", Prompt: "x", Public: true})

	rec := doJSON(t, s.Router(), http.MethodDelete, "/api/gallery/legacy", nil,
		map[string]string{"X-Wallet-Address": "0xANY"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ownerless item should be deletable by any wallet, got %d", rec.Code)
	}
}

func TestGalleryVisibilityToggle(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	addItem(t, s, AddItemRequest{JobID: "v", Prompt: "x", Public: true, WalletAddress: "0xABC"})

	rec := doJSON(t, s.Router(), http.MethodPut, "/api/gallery/v/visibility",
		map[string]bool{"isPublic": false}, map[string]string{"X-Wallet-Address": "0xABC"})
	if rec.Code != http.StatusOK {
		t.Fatalf("visibility update returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/gallery", nil, nil)
	var result gallery.ListResult
	decodeBody(t, rec, &result)
	if result.Total != 0 {
		t.Fatalf("hidden item must leave the public listing, total=%d", result.Total)
	}
}

func TestGalleryByWallet(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	addItem(t, s, AddItemRequest{JobID: "w1", Prompt: "x", Public: false, WalletAddress: "0xABC"})
	addItem(t, s, AddItemRequest{JobID: "w2", Prompt: "x", Public: true, WalletAddress: "0xDEF"})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/gallery/wallet/0xAbC", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("wallet listing returned %d", rec.Code)
	}
	var resp struct {
		Items []gallery.Item `json:"items"`
		Count int            `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 1 || resp.Items[0].JobID != "w1" {
		t.Fatalf("wallet listing should match case-insensitively: %+v", resp)
	}
}

func TestItemMediaFallsBackToCachedURLs(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	addItem(t, s, AddItemRequest{
		JobID:     "cached-1",
		Prompt:    "x",
		Public:    true,
		MediaURLs: []string{"https://worker.example/outputs/cached-1.webp"},
	})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/gallery/cached-1/media", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("media returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		URLs   []string `json:"urls"`
		Source string   `json:"source"`
	}
	decodeBody(t, rec, &resp)
	if resp.Source != "cache" || len(resp.URLs) != 1 {
		t.Fatalf("expected cached fallback, got %+v", resp)
	}
}

func TestItemMediaFromGridStatus(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	addItem(t, s, AddItemRequest{JobID: "job-123", Prompt: "x", Public: true})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/gallery/job-123/media", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("media returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		URLs   []string `json:"urls"`
		Source string   `json:"source"`
	}
	decodeBody(t, rec, &resp)
	if resp.Source != "grid" {
		t.Fatalf("expected grid source, got %s", resp.Source)
	}
	if len(resp.URLs) != 1 || resp.URLs[0] != "https://worker.example/outputs/gen-1.webp" {
		t.Fatalf("unexpected urls: %v", resp.URLs)
	}
}

func TestFavoritesRequireDatabase(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/favorites", nil,
		map[string]string{"X-Wallet-Address": "0xABC"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("favorites without database should 503, got %d", rec.Code)
	}
}

func TestConnectUserRequiresDatabase(t *testing.T) {
	s := newTestServer(t, newTestGrid(t).URL, serverOptions{gridAPIKey: "key"})
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/users/connect",
		map[string]string{"walletAddress": "0xABC"}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("user connect without database should 503, got %d", rec.Code)
	}
}

func TestSamplerMapping(t *testing.T) {
	cases := map[string]string{
		"uni_pc":   "dpmsolver",
		"euler":    "k_euler",
		"EULER":    "k_euler",
		"dpmpp_2m": "k_dpmpp_2m",
		"ddim":     "DDIM",
		"bogus":    "k_euler",
	}
	for in, want := range cases {
		if got := mapSamplerName(in); got != want {
			t.Fatalf("mapSamplerName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildJobRequestClampsToLimits(t *testing.T) {
	preset := presets.ModelPreset{
		ID:   "FLUX.1-dev",
		Type: gallery.TypeImage,
		Defaults: presets.Defaults{
			Steps: 25, CfgScale: 3.5, Sampler: "euler", Scheduler: "simple",
		},
		Limits: presets.Limits{
			Steps:    &presets.RangeInt{Min: 10, Max: 50},
			CfgScale: &presets.RangeFloat{Min: 1, Max: 10},
		},
	}
	req := CreateJobRequest{
		ModelID: "FLUX.1-dev",
		Prompt:  "a cat",
		Params:  GenerationParams{Steps: 999, CfgScale: 0.1},
		Public:  true,
	}
	payload := buildJobRequest(req, preset)
	if payload.Params["steps"] != 50 {
		t.Fatalf("steps should clamp to 50, got %v", payload.Params["steps"])
	}
	if payload.Params["cfg_scale"] != 1.0 {
		t.Fatalf("cfg should clamp to 1.0, got %v", payload.Params["cfg_scale"])
	}
	if payload.Params["sampler_name"] != "k_euler" {
		t.Fatalf("sampler should map to k_euler, got %v", payload.Params["sampler_name"])
	}
	if !payload.Shared || payload.CensorNSFW != true {
		t.Fatalf("flag mapping wrong: shared=%v censor=%v", payload.Shared, payload.CensorNSFW)
	}
	if payload.SourceProcessing != "txt2img" {
		t.Fatalf("expected txt2img default, got %s", payload.SourceProcessing)
	}
}

func TestBuildJobRequestEnhancesPrompts(t *testing.T) {
	preset := presets.ModelPreset{ID: "FLUX.1-dev", Type: gallery.TypeImage}
	payload := buildJobRequest(CreateJobRequest{ModelID: preset.ID, Prompt: "a cat"}, preset)
	if payload.Prompt != "a cat, high quality, detailed, sharp focus" {
		t.Fatalf("expected enhanced prompt, got %q", payload.Prompt)
	}
	if payload.NegativePrompt == "" || !strings.Contains(payload.NegativePrompt, "blurry") {
		t.Fatalf("expected default negative prompt, got %q", payload.NegativePrompt)
	}

	payload = buildJobRequest(CreateJobRequest{ModelID: preset.ID, Prompt: "a cat", NegativePrompt: "dogs"}, preset)
	if payload.NegativePrompt != "dogs" {
		t.Fatalf("caller negative prompt must win, got %q", payload.NegativePrompt)
	}
}

func TestBuildJobRequestVideoDefaults(t *testing.T) {
	preset := presets.ModelPreset{
		ID:   "wan2.2_ti2v_5B",
		Type: gallery.TypeVideo,
		Defaults: presets.Defaults{
			Steps: 20, CfgScale: 5, Sampler: "uni_pc", Scheduler: "simple", Length: 81, FPS: 16,
		},
	}
	payload := buildJobRequest(CreateJobRequest{ModelID: preset.ID, Prompt: "waves"}, preset)
	if payload.SourceProcessing != "txt2video" {
		t.Fatalf("expected txt2video, got %s", payload.SourceProcessing)
	}
	if payload.MediaType != gallery.TypeVideo {
		t.Fatalf("expected video media type, got %s", payload.MediaType)
	}
	if payload.Params["length"] != 81 || payload.Params["video_length"] != 81 {
		t.Fatalf("length should be set both ways: %v", payload.Params)
	}
	if payload.Models[0] != "wan2_2_ti2v_5b" {
		t.Fatalf("preset id should map to the grid name, got %s", payload.Models[0])
	}
}

func TestNormalizeBase64(t *testing.T) {
	long := strings.Repeat("A", 60)
	if got := normalizeBase64(long); got != "data:image/webp;base64,"+long {
		t.Fatalf("long payload should gain a data prefix, got %q", got)
	}
	if got := normalizeBase64("data:image/png;base64,xyz"); got != "data:image/png;base64,xyz" {
		t.Fatalf("prefixed payload must pass through, got %q", got)
	}
	if got := normalizeBase64("short"); got != "" {
		t.Fatalf("short junk should be dropped, got %q", got)
	}
}
