// Package prompts prepares user prompts for submission: category-specific
// quality enhancement, default negative prompts and length truncation.
package prompts

import "strings"

// MaxPromptLength bounds both the positive and negative prompt.
const MaxPromptLength = 512

// Category groups models with similar prompting conventions.
type Category int

const (
	CategoryFlux Category = iota
	CategorySDXL
	CategoryWANVideo
	CategoryLTXVideo
	CategoryGeneric
)

// Detect maps a model id to its prompting category by name.
func Detect(modelID string) Category {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "flux"):
		return CategoryFlux
	case strings.Contains(lower, "sdxl"), strings.Contains(lower, "stable-diffusion-xl"):
		return CategorySDXL
	case strings.Contains(lower, "wan"):
		return CategoryWANVideo
	case strings.Contains(lower, "ltxv"), strings.Contains(lower, "ltx"):
		return CategoryLTXVideo
	}
	return CategoryGeneric
}

// DefaultNegative returns the negative prompt used when the caller sends none.
func DefaultNegative(category Category) string {
	switch category {
	case CategoryFlux:
		return "blurry, low quality, distorted, deformed, ugly, bad anatomy, watermark, signature, text"
	case CategorySDXL:
		return "blurry, low quality, distorted, deformed, ugly, bad anatomy, bad hands, watermark, signature, text, cropped"
	case CategoryWANVideo:
		return "static, frozen, blurry, low quality, distorted, jittery, flickering, watermark"
	case CategoryLTXVideo:
		return "static, blurry, low quality, distorted, artifacts, flickering, watermark, text"
	}
	return "blurry, low quality, distorted, watermark"
}

// qualitySuffix is appended to the prompt per category.
func qualitySuffix(category Category) string {
	switch category {
	case CategoryFlux:
		return "high quality, detailed, sharp focus"
	case CategorySDXL:
		return "masterpiece, best quality, highly detailed"
	case CategoryWANVideo:
		return "smooth motion, cinematic, high quality video"
	case CategoryLTXVideo:
		return "smooth motion, high quality, detailed"
	}
	return "high quality"
}

// Enhance appends the category quality suffix when it fits within
// MaxPromptLength, otherwise returns the truncated prompt unchanged.
func Enhance(prompt string, category Category) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return prompt
	}
	if len(prompt) >= MaxPromptLength {
		return truncate(prompt, MaxPromptLength)
	}

	suffix := qualitySuffix(category)
	if len(prompt)+len(suffix)+2 <= MaxPromptLength {
		return prompt + ", " + suffix
	}
	return truncate(prompt, MaxPromptLength)
}

// Process prepares the positive and negative prompt pair for a model. An
// empty negative prompt falls back to the category default.
func Process(prompt, negativePrompt, modelID string) (string, string) {
	category := Detect(modelID)
	enhanced := Enhance(prompt, category)

	negative := strings.TrimSpace(negativePrompt)
	if negative == "" {
		negative = DefaultNegative(category)
	}
	if len(negative) > MaxPromptLength {
		negative = truncate(negative, MaxPromptLength)
	}
	return enhanced, negative
}

// truncate cuts a prompt to maxLen, preferring the last word boundary when it
// keeps at least two thirds of the budget, and trims dangling separators.
func truncate(prompt string, maxLen int) string {
	if len(prompt) <= maxLen {
		return prompt
	}
	truncated := prompt[:maxLen]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > maxLen*2/3 {
		truncated = truncated[:lastSpace]
	}
	return strings.TrimRight(truncated, " ,.")
}
