package server

// HTTPError is the JSON error body produced by the unified error handler.
type HTTPError struct {
	Error string `json:"error"`
}

// ResearchRequest starts a research run.
type ResearchRequest struct {
	Query  string `json:"query"`
	Preset string `json:"preset,omitempty"`
}

// AuthSignupRequest creates an account.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest exchanges credentials for a token.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is the login success body.
type TokenResponse struct {
	Token string `json:"token"`
}

// ToolResponse is the success envelope for tool endpoints.
type ToolResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// ToolSearchRequest runs a bare web search.
type ToolSearchRequest struct {
	Query string `json:"query"`
	Max   int    `json:"max,omitempty"`
}

// ToolScrapeRequest fetches and extracts one URL synchronously.
type ToolScrapeRequest struct {
	URL string `json:"url"`
}

// ToolExtractRequest runs a guided extraction against one URL.
type ToolExtractRequest struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt,omitempty"`
}

// ToolCrawlRequest enqueues an asynchronous scrape batch.
type ToolCrawlRequest struct {
	URLs []string `json:"urls"`
}

// RunSearchResponse wraps hits from a run's source index.
type RunSearchResponse struct {
	RunID string      `json:"run_id"`
	Query string      `json:"query"`
	Hits  interface{} `json:"hits"`
}
