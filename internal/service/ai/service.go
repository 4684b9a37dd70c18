package ai

import (
	"context"
	"fmt"
	"strings"

	"assistberry/internal/config"
	"assistberry/internal/content"
	"assistberry/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Service talks to one configured model provider. Image generation is only
// available on gemini; text generation works on every provider.
type Service struct {
	chatModel   einomodel.ToolCallingChatModel
	genaiClient *genai.Client
	provider    string
	imageModel  string
}

// NewService builds a collaborator for the named provider. modelName
// overrides the configured default when non-empty.
func NewService(ctx context.Context, provider, modelName string, provCfg config.ProviderConfig) (*Service, error) {
	if modelName == "" {
		modelName = provCfg.Model
	}
	svc := &Service{provider: provider, imageModel: provCfg.ImageModel}

	var err error
	switch provider {
	case "openai":
		svc.chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		svc.chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	case "gemini":
		svc.genaiClient, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		svc.chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: svc.genaiClient,
			Model:  modelName,
			ThinkingConfig: &genai.ThinkingConfig{
				IncludeThoughts: true,
				ThinkingBudget:  nil,
			},
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", provider, err)
	}
	return svc, nil
}

// Generate runs one completion over the assembled context. Attachments ride
// along as inline data parts on the turn that carries them.
func (s *Service) Generate(ctx context.Context, system string, turns []models.Turn) (*models.Reply, error) {
	messages := make([]*schema.Message, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, &schema.Message{Role: schema.System, Content: system})
	}
	for _, turn := range turns {
		messages = append(messages, convertTurn(turn))
	}

	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: generate: %v", models.ErrCollaborator, err)
	}
	return &models.Reply{Text: resp.Content}, nil
}

func convertTurn(turn models.Turn) *schema.Message {
	role := schema.User
	if turn.Role == models.RoleModel {
		role = schema.Assistant
	}
	if len(turn.Attachments) == 0 {
		return &schema.Message{Role: role, Content: turn.Text}
	}

	parts := make([]schema.ChatMessagePart, 0, len(turn.Attachments)+1)
	if turn.Text != "" {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: turn.Text,
		})
	}
	for _, att := range turn.Attachments {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{
				URL:      content.DataURI(att),
				MIMEType: att.MIMEType,
			},
		})
	}
	return &schema.Message{Role: role, MultiContent: parts}
}

// Summarize runs a single-shot prompt with no conversation framing.
func (s *Service) Summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := s.chatModel.Generate(ctx, []*schema.Message{
		{Role: schema.User, Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("%w: summarize: %v", models.ErrCollaborator, err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// TitleOf asks for a short conversation title seeded by the opening
// exchange.
func (s *Service) TitleOf(ctx context.Context, seed string) (string, error) {
	prompt := fmt.Sprintf(
		"Generate a concise title (max 5 words) for a conversation that starts with this message. Reply with the title only, no quotes.\n\n%s",
		seed,
	)
	title, err := s.Summarize(ctx, prompt)
	if err != nil {
		return "", err
	}
	title = strings.Trim(title, `"' `)
	if title == "" {
		return "", fmt.Errorf("%w: empty title", models.ErrCollaborator)
	}
	return title, nil
}

// GenerateImage produces an image from the prompt, optionally conditioned on
// reference attachments. Only the gemini provider supports this route.
func (s *Service) GenerateImage(ctx context.Context, prompt string, refs []models.Attachment) (*models.Attachment, error) {
	if s.genaiClient == nil || s.imageModel == "" {
		return nil, fmt.Errorf("%w: image generation is not available on provider %s", models.ErrCollaborator, s.provider)
	}

	parts := []*genai.Part{{Text: prompt}}
	for _, ref := range refs {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: ref.MIMEType, Data: ref.Data},
		})
	}
	resp, err := s.genaiClient.Models.GenerateContent(ctx, s.imageModel,
		[]*genai.Content{{Parts: parts}},
		&genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE"}},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: generate image: %v", models.ErrCollaborator, err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &models.Attachment{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: response carried no image", models.ErrCollaborator)
}
