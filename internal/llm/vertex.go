package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	openai "github.com/sashabaranov/go-openai"
)

// ErrNoCandidates is returned when Gemini answers without any text.
var ErrNoCandidates = errors.New("gemini returned no candidates")

// VertexProvider serves chat completions from Gemini on Vertex AI. Requests
// keep the OpenAI shape so the cleaner does not care which backend runs.
type VertexProvider struct {
	client *genai.Client
}

// NewVertex connects with application default credentials.
func NewVertex(ctx context.Context, projectID, region string) (*VertexProvider, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(region) == "" {
		return nil, errors.New("vertex: project and region are required")
	}
	c, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexProvider{client: c}, nil
}

func (p *VertexProvider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *VertexProvider) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	model := p.client.GenerativeModel(req.Model)
	system, history, last, err := toGenAI(req.Messages)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	model.SystemInstruction = system
	model.GenerationConfig = generationConfig(req)

	cs := model.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("gemini: %w", err)
	}
	return fromGenAI(req.Model, resp)
}

func generationConfig(req openai.ChatCompletionRequest) genai.GenerationConfig {
	var gc genai.GenerationConfig
	if req.Temperature > 0 {
		gc.Temperature = genai.Ptr(req.Temperature)
	}
	if req.TopP > 0 {
		gc.TopP = genai.Ptr(req.TopP)
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = genai.Ptr(int32(req.MaxTokens))
	}
	gc.CandidateCount = genai.Ptr[int32](1)
	return gc
}

// toGenAI folds system messages into one instruction and splits the rest
// into chat history plus the final user turn.
func toGenAI(msgs []openai.ChatCompletionMessage) (*genai.Content, []*genai.Content, []genai.Part, error) {
	var system []genai.Part
	var turns []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case openai.ChatMessageRoleSystem:
			system = append(system, genai.Text(m.Content))
		case openai.ChatMessageRoleUser:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case openai.ChatMessageRoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			return nil, nil, nil, fmt.Errorf("gemini: unsupported role %q", m.Role)
		}
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return nil, nil, nil, errors.New("gemini: conversation must end with a user message")
	}
	var instruction *genai.Content
	if len(system) > 0 {
		instruction = &genai.Content{Parts: system}
	}
	last := turns[len(turns)-1]
	return instruction, turns[:len(turns)-1], last.Parts, nil
}

func fromGenAI(model string, resp *genai.GenerateContentResponse) (openai.ChatCompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return openai.ChatCompletionResponse{}, ErrNoCandidates
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return openai.ChatCompletionResponse{}, ErrNoCandidates
	}
	return openai.ChatCompletionResponse{
		Object: "chat.completion",
		Model:  model,
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: b.String()},
		}},
	}, nil
}
