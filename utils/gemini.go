package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aidly-labs/aidly-go-sdk/models"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiModel          = "gemini-1.5-flash"
	geminiEmbeddingModel = "text-embedding-004"
)

type GeminiClient struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func NewGeminiClient() *GeminiClient {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		zap.L().Fatal("GEMINI_API_KEY environment variable not set")
	}

	baseURL := os.Getenv("GEMINI_BASE_URL")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	return &GeminiClient{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

const injuryPrompt = `You are assisting with first aid triage. Analyze the injury shown in this image.

Respond with a JSON object only, no other text, in the following format:
{
	"condition": string,       // short name of the identified condition, e.g. "second-degree burn"
	"severity_score": integer, // 1 (trivial) to 10 (life-threatening)
	"metadata": {              // optional string-to-string details
		"affected_area": string,
		"visible_symptoms": string
	}
}

Be conservative with the severity score: only use 8 or above when the injury plausibly needs emergency care.`

// AnalyzeInjury sends a canonical injury image to the vision model and
// returns the structured findings. Any upstream failure or unparseable
// payload surfaces as ErrAnalysisUnavailable; a missing or non-numeric
// severity in an otherwise valid payload is coerced, not an error.
func (c *GeminiClient) AnalyzeInjury(ctx context.Context, img *models.InjuryImage) (*models.AnalysisResult, error) {
	contents := []geminiContent{{
		Role: "user",
		Parts: []geminiPart{
			{Text: injuryPrompt},
			{InlineData: &geminiInlineData{
				MimeType: "image/jpeg",
				Data:     base64.StdEncoding.EncodeToString(img.Data),
			}},
		},
	}}

	reply, err := c.generateContent(ctx, contents)
	if err != nil {
		return nil, models.NewUpstreamError(models.ErrAnalysisUnavailable, err)
	}

	var payload struct {
		Condition string            `json:"condition"`
		Severity  interface{}       `json:"severity_score"`
		Metadata  map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(reply)), &payload); err != nil {
		zap.L().Warn("Analyzer returned unparseable payload",
			zap.Error(err),
			zap.String("reply", reply))
		return nil, models.NewUpstreamError(models.ErrAnalysisUnavailable, err)
	}

	condition := payload.Condition
	if condition == "" {
		condition = "Unknown"
	}

	return &models.AnalysisResult{
		Condition: condition,
		Severity:  models.CoerceSeverity(payload.Severity),
		Metadata:  payload.Metadata,
	}, nil
}

// GenerateFirstAid produces guidance text for one analysis result. It is a
// pure function of its input; callers may re-invoke it with the same result.
func (c *GeminiClient) GenerateFirstAid(ctx context.Context, result *models.AnalysisResult) (*models.FirstAidGuidance, error) {
	prompt := fmt.Sprintf(`Provide clear, step-by-step first aid instructions for the following injury.

Condition: %s
Severity: %d out of 10

Write short numbered steps a layperson can follow immediately, then a line on when to seek professional care. Do not include any preamble.`,
		result.Condition, result.Severity)

	reply, err := c.generateContent(ctx, []geminiContent{{
		Role:  "user",
		Parts: []geminiPart{{Text: prompt}},
	}})
	if err != nil {
		return nil, models.NewUpstreamError(models.ErrGuidanceUnavailable, err)
	}

	return &models.FirstAidGuidance{Text: reply}, nil
}

// ChatReply answers a free-form first aid question given the prior turn
// history and optional reference snippets retrieved from the knowledge base.
func (c *GeminiClient) ChatReply(ctx context.Context, question string, history []models.ChatTurn, knowledge []string) (string, error) {
	system := "You are a calm first aid assistant. Answer emergency and first aid questions concisely and remind the user to call emergency services (112 in India, ambulance 108) for anything life-threatening."
	if len(knowledge) > 0 {
		system += "\n\nReference material:\n" + strings.Join(knowledge, "\n")
	}

	contents := []geminiContent{{Role: "user", Parts: []geminiPart{{Text: system}}}}
	for _, turn := range history {
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: turn.Content}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: question}}})

	reply, err := c.generateContent(ctx, contents)
	if err != nil {
		return "", models.NewUpstreamError(models.ErrChatUnavailable, err)
	}
	return reply, nil
}

// EmbedText vectorizes a text snippet for knowledge-base queries.
func (c *GeminiClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	requestBody := map[string]interface{}{
		"content": map[string]interface{}{
			"parts": []map[string]string{{"text": text}},
		},
	}

	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", c.BaseURL, geminiEmbeddingModel, c.APIKey)
	bodyBytes, err := c.post(ctx, url, requestBody)
	if err != nil {
		return nil, err
	}

	var response struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding response: %w", err)
	}
	if len(response.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding values in Gemini response")
	}

	return response.Embedding.Values, nil
}

func (c *GeminiClient) generateContent(ctx context.Context, contents []geminiContent) (string, error) {
	requestBody := map[string]interface{}{
		"contents": contents,
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.BaseURL, geminiModel, c.APIKey)
	bodyBytes, err := c.post(ctx, url, requestBody)
	if err != nil {
		return "", err
	}

	var response geminiResponse
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal response JSON: %w", err)
	}

	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no candidates in Gemini API response")
	}

	var reply strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		reply.WriteString(part.Text)
	}

	text := strings.TrimSpace(reply.String())
	zap.L().Debug("Gemini response content", zap.String("content", text))
	return text, nil
}

func (c *GeminiClient) post(ctx context.Context, url string, requestBody map[string]interface{}) ([]byte, error) {
	requestBodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Gemini API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return bodyBytes, nil
}

// stripCodeFences removes a surrounding markdown code block if the model
// wrapped its JSON in one.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
