package vision

// Media is one unit of content passed to the model provider.
type Media struct {
	// Data is the raw media bytes.
	Data []byte
	// MimeType is the media MIME type, e.g. image/jpeg.
	MimeType string
}

// CompareResult is the verdict of a pairwise quality comparison.
type CompareResult struct {
	// Winner is 1 or 2, identifying the preferred contestant.
	Winner int `json:"winner"`
	// Reasoning is the model's explanation of the verdict.
	Reasoning string `json:"reasoning"`
	// Confidence is the model's confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// generateRequest is the provider's generateContent request body.
type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// generateResponse is the provider's generateContent response body.
type generateResponse struct {
	Candidates []candidate `json:"candidates"`
	Error      *apiError   `json:"error,omitempty"`
}

type candidate struct {
	Content content `json:"content"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// firstText returns the first text part of the first candidate.
func (r *generateResponse) firstText() string {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

// firstImage returns the first inline image of the first candidate.
func (r *generateResponse) firstImage() *inlineData {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return p.InlineData
			}
		}
	}
	return nil
}
