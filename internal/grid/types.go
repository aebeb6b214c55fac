package grid

import (
	"encoding/json"
	"strconv"
)

// JobRequest is the payload submitted to the grid's async generate endpoint.
type JobRequest struct {
	Prompt           string         `json:"prompt"`
	NegativePrompt   string         `json:"negative_prompt,omitempty"`
	Models           []string       `json:"models"`
	NSFW             bool           `json:"nsfw"`
	CensorNSFW       bool           `json:"censor_nsfw"`
	TrustedWorkers   bool           `json:"trusted_workers"`
	R2               bool           `json:"r2"`
	Shared           bool           `json:"shared"`
	Params           map[string]any `json:"params"`
	SourceImage      string         `json:"source_image,omitempty"`
	SourceProcessing string         `json:"source_processing,omitempty"`
	SourceMask       string         `json:"source_mask,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
	WalletAddress    string         `json:"wallet_id,omitempty"`
	MediaType        string         `json:"media_type,omitempty"`
}

// JobAccepted is the grid's response to a successful submission.
type JobAccepted struct {
	ID      string  `json:"id"`
	Message string  `json:"message"`
	Kudos   float64 `json:"kudos"`
}

// JobStatus is the polled state of a submitted job.
type JobStatus struct {
	ID            string       `json:"id"`
	Done          bool         `json:"done"`
	Faulted       bool         `json:"faulted"`
	Processing    int          `json:"processing"`
	Finished      int          `json:"finished"`
	Waiting       int          `json:"waiting"`
	QueuePosition int          `json:"queue_position"`
	WaitTime      float64      `json:"wait_time"`
	Message       string       `json:"message"`
	Generations   []Generation `json:"generations"`
}

// Generation is one produced output within a job. Workers disagree on which
// field carries the media reference, so all variants are kept.
type Generation struct {
	ID       string      `json:"id"`
	Img      string      `json:"img"`
	ImgURL   string      `json:"img_url"`
	Image    string      `json:"image"`
	Mime     string      `json:"mime"`
	Seed     interface{} `json:"seed"`
	WorkerID string      `json:"worker_id"`
	Worker   string      `json:"worker_name"`
	State    string      `json:"state"`
	Video    string      `json:"video"`
}

// MediaRef returns the first non-empty media reference of the generation.
func (g Generation) MediaRef() string {
	for _, ref := range []string{g.ImgURL, g.Img, g.Image, g.Video} {
		if ref != "" {
			return ref
		}
	}
	return ""
}

// ModelStatus is one entry of the grid's model availability report. Numeric
// fields arrive as either numbers or strings depending on the grid version,
// so they are kept raw and parsed on access.
type ModelStatus struct {
	Name        string          `json:"name"`
	Performance json.RawMessage `json:"performance"`
	Queued      json.RawMessage `json:"queued"`
	Jobs        json.RawMessage `json:"jobs"`
	Eta         json.RawMessage `json:"eta"`
	Type        string          `json:"type"`
	Count       json.RawMessage `json:"count"`
}

func (m ModelStatus) ParsePerformance() float64 { return parseFloat(m.Performance) }
func (m ModelStatus) ParseQueued() int          { return int(parseFloat(m.Queued)) }
func (m ModelStatus) ParseJobs() int            { return int(parseFloat(m.Jobs)) }
func (m ModelStatus) ParseETA() float64         { return parseFloat(m.Eta) }
func (m ModelStatus) ParseCount() int           { return int(parseFloat(m.Count)) }

func parseFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return 0
}
