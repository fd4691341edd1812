package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

// EnrichedContent is what one generation pass produces for a CV document.
type EnrichedContent struct {
	Summary     string
	CoverLetter string
	// Achievements holds bullets keyed by index into the experience list.
	Achievements map[int][]string
	GeneratedAt  time.Time
}

// Enricher writes generated text for a CV order. It never touches stored state.
type Enricher interface {
	Enrich(ctx context.Context, orderID string, st model.ServiceType, formData json.RawMessage) (*EnrichedContent, error)
}

// TextModel is the part of llms.Model the enricher calls.
type TextModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type LLMEnricher struct {
	llm TextModel
	now func() time.Time
}

func NewLLMEnricher(llm TextModel) (*LLMEnricher, error) {
	if llm == nil {
		return nil, errors.New("llm is nil")
	}
	return &LLMEnricher{llm: llm, now: time.Now}, nil
}

// NewOpenAIModel builds the production text model.
func NewOpenAIModel(cfg *config.AIConfig) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai.New: %w", err)
	}
	return llm, nil
}

type generatedPayload struct {
	Summary      string     `json:"summary"`
	CoverLetter  string     `json:"coverLetter"`
	Achievements [][]string `json:"achievements"`
}

func (e *LLMEnricher) Enrich(ctx context.Context, orderID string, st model.ServiceType, formData json.RawMessage) (*EnrichedContent, error) {
	if st.IsAgreement() {
		return nil, fmt.Errorf("%w: agreements are not enriched", apperr.ErrValidation)
	}
	fd, err := model.DecodeFormData(st, formData)
	if err != nil {
		return nil, err
	}
	doc := fd.(model.CVForm).Doc
	wantLetter := st.WantsCoverLetter() || doc.CoverLetter != nil

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildEnrichPrompt(doc, wantLetter)),
	}

	completion, err := e.llm.GenerateContent(ctx, content, llms.WithTemperature(0.4), llms.WithJSONMode())
	if err != nil {
		return nil, fmt.Errorf("%w: llm.GenerateContent: %w", apperr.ErrUpstream, err)
	}

	var response strings.Builder
	for _, choice := range completion.Choices {
		if choice == nil {
			continue
		}
		response.WriteString(choice.Content)
		if choice.StopReason != "" && choice.StopReason != "stop" {
			logger.Warn(logger.WithOrder(ctx, orderID), "unexpected stop reason", "stop_reason", choice.StopReason)
		}
	}

	var out generatedPayload
	if err := json.Unmarshal([]byte(extractJSON(response.String())), &out); err != nil {
		return nil, fmt.Errorf("%w: unparseable generation: %v", apperr.ErrUpstream, err)
	}

	ec := &EnrichedContent{
		Summary:      strings.TrimSpace(out.Summary),
		Achievements: make(map[int][]string),
		GeneratedAt:  e.now().UTC(),
	}
	if wantLetter {
		ec.CoverLetter = strings.TrimSpace(out.CoverLetter)
	}
	for i, bullets := range out.Achievements {
		if i >= len(doc.Experience) {
			break
		}
		if cleaned := cleanBullets(bullets); len(cleaned) > 0 {
			ec.Achievements[i] = cleaned
		}
	}
	return ec, nil
}

const systemPrompt = `You are a professional resume writer. Reply with a single JSON object and nothing else.`

func buildEnrichPrompt(doc model.CVDocument, wantLetter bool) string {
	var b strings.Builder
	b.WriteString("Improve this resume. Return JSON with keys:\n")
	b.WriteString(`"summary": a 3-4 sentence professional summary,` + "\n")
	b.WriteString(`"achievements": an array with one entry per experience item, in the same order, each an array of 2-4 concise achievement bullets,` + "\n")
	if wantLetter {
		b.WriteString(`"coverLetter": the body of a cover letter`)
		if cl := doc.CoverLetter; cl != nil {
			if cl.Position != "" {
				fmt.Fprintf(&b, " for the %s position", cl.Position)
			}
			if cl.Company != "" {
				fmt.Fprintf(&b, " at %s", cl.Company)
			}
		}
		b.WriteString(", without greeting or signature.\n")
	}
	b.WriteString("\nCandidate: ")
	b.WriteString(doc.PersonalInfo.FullName)
	if doc.PersonalInfo.Headline != "" {
		b.WriteString(" (" + doc.PersonalInfo.Headline + ")")
	}
	if doc.Summary != "" {
		b.WriteString("\nCurrent summary: " + doc.Summary)
	}
	for i, exp := range doc.Experience {
		fmt.Fprintf(&b, "\nExperience %d: %s at %s", i+1, exp.JobTitle, exp.Company)
		if exp.Description != "" {
			b.WriteString(". " + exp.Description)
		}
	}
	if len(doc.Skills) > 0 {
		b.WriteString("\nSkills: " + strings.Join(doc.Skills, ", "))
	}
	return b.String()
}

// extractJSON strips a markdown fence if the model wrapped its answer in one.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "```")
	if start == -1 {
		return text
	}
	rest := strings.TrimPrefix(text[start+3:], "json")
	if end := strings.Index(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func cleanBullets(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "-•*"))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MergeEnrichment overlays ec onto the stored form data. Only summary,
// coverLetter.body and experience[i].achievements are written; every other
// key, including ones this service does not model, is kept as submitted.
func MergeEnrichment(raw json.RawMessage, ec *EnrichedContent) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: form_data: %v", apperr.ErrValidation, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: form_data is not an object", apperr.ErrValidation)
	}

	if ec.Summary != "" {
		doc["summary"] = ec.Summary
	}

	if ec.CoverLetter != "" {
		letter, ok := doc["coverLetter"].(map[string]any)
		if !ok {
			letter = map[string]any{}
		}
		letter["body"] = ec.CoverLetter
		doc["coverLetter"] = letter
	}

	if exps, ok := doc["experience"].([]any); ok {
		for i, bullets := range ec.Achievements {
			if i < 0 || i >= len(exps) {
				continue
			}
			entry, ok := exps[i].(map[string]any)
			if !ok {
				continue
			}
			entry["achievements"] = bullets
		}
	}

	doc[model.MarkerAIGenerated] = true
	doc[model.MarkerAIGeneratedAt] = ec.GeneratedAt.UTC().Format(time.RFC3339)

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal merged form_data: %w", err)
	}
	return merged, nil
}
