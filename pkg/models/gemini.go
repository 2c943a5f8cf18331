package models

// GenerateRequest is the generateContent request body.
type GenerateRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
	SafetySettings   []SafetySetting  `json:"safetySettings,omitempty"`
}

// Content is a single turn of the conversation.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a text fragment of a Content.
type Part struct {
	Text string `json:"text"`
}

// GenerationConfig controls sampling on the remote side.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature" yaml:"temperature"`
	TopK            int     `json:"topK" yaml:"top_k"`
	TopP            float64 `json:"topP" yaml:"top_p"`
	MaxOutputTokens int     `json:"maxOutputTokens" yaml:"max_output_tokens"`
	CandidateCount  int     `json:"candidateCount" yaml:"candidate_count"`
}

// SafetySetting sets the block threshold for one harm category.
type SafetySetting struct {
	Category  string `json:"category" yaml:"category"`
	Threshold string `json:"threshold" yaml:"threshold"`
}

// Candidate is one generated answer.
type Candidate struct {
	Content      *Content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
}

// GenerateResponse is the generateContent response body.
type GenerateResponse struct {
	Candidates []Candidate    `json:"candidates"`
	Error      *APIErrorBody `json:"error,omitempty"`
}

// APIErrorBody is the error object returned by the remote API.
type APIErrorBody struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// FinishReasonSafety marks a candidate suppressed by safety filters.
const FinishReasonSafety = "SAFETY"
