package grid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/generate/async" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Client-Agent") != "test-agent:v1" {
			t.Errorf("missing client agent header")
		}
		if r.Header.Get("apikey") != "secret" {
			t.Errorf("missing apikey header")
		}
		var req JobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "a cat" || len(req.Models) != 1 {
			t.Errorf("unexpected payload %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(JobAccepted{ID: "job-123", Kudos: 10})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-agent:v1", "secret")
	accepted, err := client.CreateJob(context.Background(), JobRequest{
		Prompt: "a cat",
		Models: []string{"FLUX.1-dev"},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if accepted.ID != "job-123" {
		t.Fatalf("unexpected job id %q", accepted.ID)
	}
}

func TestCreateJobNonAcceptedStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(JobAccepted{ID: "job-123"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-agent:v1", "")
	if _, err := client.CreateJob(context.Background(), JobRequest{Prompt: "a cat"}); err == nil {
		t.Fatalf("expected error for non-202 response")
	}
}

func TestJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate/status/job-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(JobStatus{
			ID:   "job-123",
			Done: true,
			Generations: []Generation{
				{ID: "gen-1", ImgURL: "https://r2.example.com/gen-1.webp"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-agent:v1", "")
	status, err := client.JobStatus(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if !status.Done || len(status.Generations) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if ref := status.Generations[0].MediaRef(); ref != "https://r2.example.com/gen-1.webp" {
		t.Fatalf("unexpected media ref %q", ref)
	}
}

func TestModelStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"name":"FLUX.1-dev","performance":1.5,"queued":"3","count":2,"type":"image"},
			{"name":"WAN2.2-t2v","eta":"bogus","type":"video"}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-agent:v1", "")
	stats, err := client.ModelStats(context.Background())
	if err != nil {
		t.Fatalf("model stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(stats))
	}
	if stats[0].ParsePerformance() != 1.5 {
		t.Fatalf("expected numeric performance, got %v", stats[0].ParsePerformance())
	}
	if stats[0].ParseQueued() != 3 {
		t.Fatalf("expected string queued parsed, got %v", stats[0].ParseQueued())
	}
	if stats[1].ParseETA() != 0 {
		t.Fatalf("expected unparseable eta to default to 0")
	}
}

func TestMediaRefPrecedence(t *testing.T) {
	g := Generation{Img: "b", Image: "c", Video: "d"}
	if g.MediaRef() != "b" {
		t.Fatalf("expected img field, got %q", g.MediaRef())
	}
	if (Generation{}).MediaRef() != "" {
		t.Fatalf("expected empty ref for empty generation")
	}
}
