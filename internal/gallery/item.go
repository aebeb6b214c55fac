package gallery

// Media kinds accepted by the gallery.
const (
	TypeImage = "image"
	TypeVideo = "video"
)

// JobParams carries the generation settings attached to a gallery item.
// Every field is optional: model families accept different subsets, and an
// absent field must stay absent rather than default to zero.
type JobParams struct {
	Width     *int     `json:"width,omitempty"`
	Height    *int     `json:"height,omitempty"`
	Steps     *int     `json:"steps,omitempty"`
	CfgScale  *float64 `json:"cfgScale,omitempty"`
	Sampler   *string  `json:"sampler,omitempty"`
	Scheduler *string  `json:"scheduler,omitempty"`
	Seed      *string  `json:"seed,omitempty"`
	Denoise   *float64 `json:"denoise,omitempty"`
	Length    *int     `json:"length,omitempty"`
	Fps       *int     `json:"fps,omitempty"`
	Tiling    *bool    `json:"tiling,omitempty"`
	HiresFix  *bool    `json:"hiresFix,omitempty"`
}

// Item is a single generation record, public or private.
type Item struct {
	JobID          string     `json:"jobId"`
	ModelID        string     `json:"modelId"`
	ModelName      string     `json:"modelName"`
	Prompt         string     `json:"prompt"`
	NegativePrompt string     `json:"negativePrompt,omitempty"`
	Type           string     `json:"type"`
	IsNSFW         bool       `json:"isNsfw"`
	IsPublic       bool       `json:"isPublic"`
	WalletAddress  string     `json:"walletAddress,omitempty"`
	CreatedAt      int64      `json:"createdAt"` // epoch millis
	Params         *JobParams `json:"params,omitempty"`
	ContentIDs     []string   `json:"contentIds,omitempty"`
	MediaURLs      []string   `json:"mediaUrls,omitempty"`
}

// ListResult is one page of public gallery items.
type ListResult struct {
	Items      []Item `json:"items"`
	Total      int    `json:"total"`
	HasMore    bool   `json:"hasMore"`
	NextOffset int    `json:"nextOffset"`
}
