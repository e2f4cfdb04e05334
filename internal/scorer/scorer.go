// internal/scorer/scorer.go
package scorer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const scoringPrompt = `Analyze this property image and provide a JSON response with:
{
  "overall_score": 0-100,
  "recommendation": "hot|warm|cold",
  "reasoning": "brief explanation",
  "component_scores": {
    "roof": 1-10,
    "siding": 1-10,
    "landscaping": 1-10,
    "vacancy_signals": 1-10
  },
  "confidence": "high|medium|low"
}

overall_score 100 = severe distress, 0 = excellent condition.
Component scores: 10 = severe distress, 1 = excellent.
recommendation: hot = strong distress signals worth immediate outreach,
warm = some signals, cold = well maintained.`

// Scorer sends street-level imagery to the Gemini vision model and parses
// the condition verdict. Calls are metered: the caller must hold the
// scoring lease before invoking Score.
type Scorer struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewScorer(apiKey, modelName string) *Scorer {
	return &Scorer{
		APIKey:  apiKey,
		Model:   modelName,
		BaseURL: defaultBaseURL,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Score fetches the image and asks the vision model for a verdict.
func (s *Scorer) Score(ctx context.Context, imageURL string) (*model.PropertyScore, error) {
	imageData, err := s.fetchImage(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	reqBody := generateRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{
					MimeType: "image/jpeg",
					Data:     base64.StdEncoding.EncodeToString(imageData),
				}},
				{Text: scoringPrompt},
			},
		}},
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", s.BaseURL, s.Model, s.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransient("score", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, apperrors.NewTransient("score", fmt.Errorf("model API status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model API status %d", resp.StatusCode)
	}

	var body generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.NewTransient("score", err)
	}
	if len(body.Candidates) == 0 || len(body.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty model response")
	}

	score, err := ParseScoreResponse(body.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return nil, err
	}
	score.Model = s.Model
	return score, nil
}

func (s *Scorer) fetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransient("score", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewTransient("score", fmt.Errorf("image fetch status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

type scorePayload struct {
	OverallScore    int    `json:"overall_score"`
	Recommendation  string `json:"recommendation"`
	Reasoning       string `json:"reasoning"`
	ComponentScores struct {
		Roof           int `json:"roof"`
		Siding         int `json:"siding"`
		Landscaping    int `json:"landscaping"`
		VacancySignals int `json:"vacancy_signals"`
	} `json:"component_scores"`
	Confidence string `json:"confidence"`
}

// ParseScoreResponse extracts the JSON verdict from the model's text
// reply, tolerating markdown code fences and surrounding prose.
func ParseScoreResponse(text string) (*model.PropertyScore, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var payload scorePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	if payload.OverallScore < 0 || payload.OverallScore > 100 {
		return nil, fmt.Errorf("overall_score %d out of range", payload.OverallScore)
	}

	return &model.PropertyScore{
		Overall:        payload.OverallScore,
		Recommendation: recommendationFrom(payload.Recommendation, payload.OverallScore),
		Reasoning:      payload.Reasoning,
		Components: model.ComponentScores{
			Roof:           payload.ComponentScores.Roof,
			Siding:         payload.ComponentScores.Siding,
			Landscaping:    payload.ComponentScores.Landscaping,
			VacancySignals: payload.ComponentScores.VacancySignals,
		},
		Confidence: confidenceFrom(payload.Confidence),
	}, nil
}

func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return ""
}

func recommendationFrom(raw string, overall int) model.Recommendation {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "hot":
		return model.RecommendationHot
	case "warm":
		return model.RecommendationWarm
	case "cold":
		return model.RecommendationCold
	}
	// Model omitted the category; derive from the score.
	switch {
	case overall >= 70:
		return model.RecommendationHot
	case overall >= 40:
		return model.RecommendationWarm
	default:
		return model.RecommendationCold
	}
}

func confidenceFrom(raw string) model.Confidence {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high":
		return model.ConfidenceHigh
	case "low":
		return model.ConfidenceLow
	default:
		return model.ConfidenceMedium
	}
}
