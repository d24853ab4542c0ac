package receipt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"kakeibo/internal/core"
)

const DefaultModelName = "gemini-2.5-flash"

// GeminiParser reads receipts with a Gemini model.
type GeminiParser struct {
	client *genai.Client
	model  string
}

func NewGeminiParser(ctx context.Context, apiKey, model string) (*GeminiParser, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiParser{client: client, model: model}, nil
}

func (p *GeminiParser) Parse(ctx context.Context, image []byte, mimeType string, hints Hints) ([]core.ReceiptDraft, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildPrompt(hints)},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
			},
		},
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, errors.New("empty response from model")
	}
	return ParseDrafts(text, hints)
}

func buildPrompt(h Hints) string {
	var b strings.Builder
	b.WriteString("You read Japanese shop receipts.\n\n")
	b.WriteString("Output STRICT JSON only: an array of objects, one per receipt.\n")
	b.WriteString("Each object has these fields:\n")
	b.WriteString("- \"date\": string, \"YYYY-MM-DD\", the purchase date\n")
	b.WriteString("- \"amount\": number, the total paid in yen including tax\n")
	b.WriteString("- \"merchant\": string, the shop name\n")
	b.WriteString("- \"description\": string, a short summary of what was bought\n")
	b.WriteString("- \"category\": string, exactly one of the categories below, or \"\"\n\n")
	b.WriteString("Categories:\n")
	for _, c := range h.Categories {
		b.WriteString("- ")
		b.WriteString(c.Name)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nIf the year is not printed, assume the most recent date not after %s.\n", h.Today.Format(core.CycleKeyLayout))
	b.WriteString("Do NOT wrap the response in code fences.\n")
	return b.String()
}
