// Package gemini implements the Gemini-backed decision oracle: the
// intent gate for inbound chats, the nightly follow-up classifier, the
// agenda draft extractor, and the technician briefing generator.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/tesivil/crmbot/internal/config"
	"github.com/tesivil/crmbot/internal/database"
)

// Decision verdicts returned by AnalyzeIntent.
const (
	DecisionReply        = "REPLY"
	DecisionHandoffOther = "HANDOFF_OTHER"
	DecisionHandoffReady = "HANDOFF_READY"
)

// Decision is the intent gate verdict for one inbound message.
type Decision struct {
	Decision string `json:"decision"`
	Message  string `json:"message"`
	Reason   string `json:"reason"`
}

// FollowUpAnalysis is the nightly classifier output for one conversation.
type FollowUpAnalysis struct {
	Intent             database.Intent `json:"intent"`
	AppointmentDateISO string          `json:"appointment_date_iso"`
	FollowUpDateISO    string          `json:"follow_up_date_iso"`
	Reasoning          string          `json:"reasoning"`
}

// AgendaExtraction is the structured draft extracted from a forwarded chat.
type AgendaExtraction struct {
	ClientName        string   `json:"cliente_nombre"`
	ClientPhone       string   `json:"cliente_telefono"`
	SearchableAddress string   `json:"direccion_buscable"`
	AddressComplement string   `json:"direccion_complemento"`
	Date              string   `json:"fecha"`
	Time              string   `json:"hora"`
	TechName          string   `json:"tecnico_nombre"`
	Cost              *float64 `json:"costo"`
	Notes             string   `json:"notas"`
}

// Client defines the AI operations used throughout the application.
type Client interface {
	// AnalyzeIntent decides how to handle a client message: answer with
	// the returned text, or hand the conversation to a human.
	AnalyzeIntent(ctx context.Context, history []*database.Message, current string) (*Decision, error)

	// ClassifyFollowUp audits a chat and extracts appointment or
	// follow-up dates for the scheduler.
	ClassifyFollowUp(ctx context.Context, history []*database.Message, now time.Time) (*FollowUpAnalysis, error)

	// ExtractAgendaDraft turns a forwarded chat dump into a structured
	// appointment draft.
	ExtractAgendaDraft(ctx context.Context, chatText string, now time.Time) (*AgendaExtraction, error)

	// GenerateTechSummary produces the technician-safe briefing for a chat.
	GenerateTechSummary(ctx context.Context, history []*database.Message) (string, error)
}

type sdkClient struct {
	genaiClient      *genai.Client
	log              *slog.Logger
	contentConfig    *genai.GenerateContentConfig
	defaultModelName string
	maxRetries       int
	retryDelay       time.Duration
}

// NewClient creates a new Gemini client with the provided configuration.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	baseCfg := &genai.GenerateContentConfig{
		Temperature: &cfg.Temperature,

		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully", "model", cfg.ModelName)
	return &sdkClient{
		genaiClient:      gi,
		log:              logger,
		contentConfig:    baseCfg,
		defaultModelName: cfg.ModelName,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}, nil
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.defaultModelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry", "attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call", "delay", c.retryDelay, "code", apiErr.Code)
				time.Sleep(c.retryDelay)
				continue
			}
			c.log.ErrorContext(ctx, "Gemini API call failed after max retries", "error", err, "code", apiErr.Code)
			return nil, fmt.Errorf("gemini API call failed after %d retries (code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		c.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, err
}

// formatTranscript renders history as a speaker-labelled transcript.
// Internal notes are excluded, they are operator-only context.
func formatTranscript(history []*database.Message) string {
	var sb strings.Builder
	for _, m := range history {
		if m.IsInternal {
			continue
		}
		label := "Cliente"
		if m.SenderType != database.SenderClient {
			label = "Mónica"
		}
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), label, m.Content))
	}
	return sb.String()
}

var decisionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"decision": {Type: genai.TypeString, Enum: []string{DecisionReply, DecisionHandoffOther, DecisionHandoffReady}},
		"message":  {Type: genai.TypeString, Description: "Reply text for the client. Empty on handoff."},
		"reason":   {Type: genai.TypeString, Description: "Internal reason for the decision."},
	},
	Required: []string{"decision", "message", "reason"},
}

func (c *sdkClient) AnalyzeIntent(ctx context.Context, history []*database.Message, current string) (*Decision, error) {
	c.log.DebugContext(ctx, "Analyzing intent", "history_count", len(history))

	var contents []*genai.Content
	for _, m := range history {
		if m.IsInternal {
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.SenderType != database.SenderClient {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(fmt.Sprintf(intentTurnPrompt, current), genai.RoleUser))

	copyCfg := *c.contentConfig
	copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: IntentSystemInstruction}}}
	copyCfg.ResponseMIMEType = "application/json"
	copyCfg.ResponseSchema = decisionSchema

	resp, err := c.generateContentWithRetries(ctx, contents, &copyCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze intent: %w", err)
	}

	jsonText, err := c.extractTextFromResponse(ctx, resp, "AnalyzeIntent")
	if err != nil {
		return nil, err
	}

	var d Decision
	if err := json.Unmarshal([]byte(jsonText), &d); err != nil {
		c.log.ErrorContext(ctx, "Failed to parse decision JSON", "error", err, "response_text", jsonText)
		return nil, fmt.Errorf("invalid decision JSON received: %w", err)
	}
	switch d.Decision {
	case DecisionReply, DecisionHandoffOther, DecisionHandoffReady:
	default:
		return nil, fmt.Errorf("unknown decision %q", d.Decision)
	}
	return &d, nil
}

var followUpSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"intent": {Type: genai.TypeString, Enum: []string{
			string(database.IntentNone), string(database.IntentAppointment),
			string(database.IntentFutureContact), string(database.IntentNoReply),
			string(database.IntentQuoteFollowUp), string(database.IntentOperationalAlert),
			string(database.IntentAdminTask),
		}},
		"appointment_date_iso": {Type: genai.TypeString, Nullable: genai.Ptr(true), Description: "ISO-8601 appointment date, null if none."},
		"follow_up_date_iso":   {Type: genai.TypeString, Nullable: genai.Ptr(true), Description: "ISO-8601 follow-up date, null if none."},
		"reasoning":            {Type: genai.TypeString},
	},
	Required: []string{"intent", "reasoning"},
}

func (c *sdkClient) ClassifyFollowUp(ctx context.Context, history []*database.Message, now time.Time) (*FollowUpAnalysis, error) {
	c.log.DebugContext(ctx, "Classifying follow-up", "history_count", len(history))

	prompt := fmt.Sprintf(followUpPrompt, now.Format("Monday, 2 January 2006 15:04 (MST)"), formatTranscript(history))
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	copyCfg := *c.contentConfig
	copyCfg.ResponseMIMEType = "application/json"
	copyCfg.ResponseSchema = followUpSchema

	resp, err := c.generateContentWithRetries(ctx, contents, &copyCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to classify follow-up: %w", err)
	}

	jsonText, err := c.extractTextFromResponse(ctx, resp, "ClassifyFollowUp")
	if err != nil {
		return nil, err
	}

	var a FollowUpAnalysis
	if err := json.Unmarshal([]byte(jsonText), &a); err != nil {
		c.log.ErrorContext(ctx, "Failed to parse follow-up JSON", "error", err, "response_text", jsonText)
		return nil, fmt.Errorf("invalid follow-up JSON received: %w", err)
	}
	return &a, nil
}

var agendaSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"cliente_nombre":        {Type: genai.TypeString},
		"cliente_telefono":      {Type: genai.TypeString},
		"direccion_buscable":    {Type: genai.TypeString, Description: "Street, exterior number, neighborhood and city only."},
		"direccion_complemento": {Type: genai.TypeString, Description: "Interior, apartment, tower, gate, references."},
		"fecha":                 {Type: genai.TypeString, Description: "YYYY-MM-DD"},
		"hora":                  {Type: genai.TypeString, Description: "HH:mm"},
		"tecnico_nombre":        {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		"costo":                 {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
		"notas":                 {Type: genai.TypeString},
	},
	Required: []string{"cliente_nombre", "cliente_telefono", "direccion_buscable", "fecha", "hora"},
}

func (c *sdkClient) ExtractAgendaDraft(ctx context.Context, chatText string, now time.Time) (*AgendaExtraction, error) {
	c.log.DebugContext(ctx, "Extracting agenda draft", "chat_len", len(chatText))

	prompt := fmt.Sprintf(agendaExtractionPrompt,
		strings.ToUpper(now.Format("Monday")), now.Format("2006-01-02"), chatText)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	copyCfg := *c.contentConfig
	copyCfg.ResponseMIMEType = "application/json"
	copyCfg.ResponseSchema = agendaSchema

	resp, err := c.generateContentWithRetries(ctx, contents, &copyCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to extract agenda draft: %w", err)
	}

	jsonText, err := c.extractTextFromResponse(ctx, resp, "ExtractAgendaDraft")
	if err != nil {
		return nil, err
	}

	var e AgendaExtraction
	if err := json.Unmarshal([]byte(jsonText), &e); err != nil {
		c.log.ErrorContext(ctx, "Failed to parse agenda JSON", "error", err, "response_text", jsonText)
		return nil, fmt.Errorf("invalid agenda JSON received: %w", err)
	}
	return &e, nil
}

func (c *sdkClient) GenerateTechSummary(ctx context.Context, history []*database.Message) (string, error) {
	c.log.DebugContext(ctx, "Generating tech summary", "history_count", len(history))

	prompt := fmt.Sprintf(techSummaryPrompt, formatTranscript(history))
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	copyCfg := *c.contentConfig

	resp, err := c.generateContentWithRetries(ctx, contents, &copyCfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate tech summary: %w", err)
	}

	return c.extractTextFromResponse(ctx, resp, "GenerateTechSummary")
}

func (c *sdkClient) extractTextFromResponse(ctx context.Context, resp *genai.GenerateContentResponse, op string) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "operation", op, "reason", reasonMsg)
		return "", fmt.Errorf("%s blocked by safety filter: %s", op, reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "operation", op, "finish_reason", finishReason)
		return "", fmt.Errorf("%s returned no content, finish reason: %s", op, finishReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%s returned empty text", op)
	}
	return text, nil
}
