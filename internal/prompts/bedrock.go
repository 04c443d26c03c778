package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/familydiary/diary/internal/models"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	maxPromptTokens  = 200
	recentInRequest  = 7
)

const systemPrompt = `You write the daily theme for a family diary.
Produce exactly one theme that:
1. is positive and invites reflection,
2. fits in one or two short sentences,
3. is ideally phrased as a question that gets people writing,
4. takes the season and any special occasion into account,
5. differs in angle and topic from the recent themes,
6. suits every member of a family.
Reply with the theme text only, in Japanese, without explanation.`

// InvokeModelAPI is the Bedrock runtime call used by BedrockGenerator.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockGenerator asks an Anthropic model hosted on Bedrock for the prompt.
type BedrockGenerator struct {
	api     InvokeModelAPI
	modelID string
}

// NewBedrockGenerator loads AWS configuration for region and returns a generator for modelID.
func NewBedrockGenerator(ctx context.Context, region, modelID string) (*BedrockGenerator, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewBedrockGeneratorWithAPI(bedrockruntime.NewFromConfig(cfg), modelID), nil
}

// NewBedrockGeneratorWithAPI builds a generator over an existing client.
func NewBedrockGeneratorWithAPI(api InvokeModelAPI, modelID string) *BedrockGenerator {
	return &BedrockGenerator{api: api, modelID: modelID}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system"`
	Messages         []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate implements Generator.
func (g *BedrockGenerator) Generate(ctx context.Context, day Context, recent []models.DailyPrompt) (string, error) {
	body, err := json.Marshal(messagesRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxPromptTokens,
		System:           systemPrompt,
		Messages:         []message{{Role: "user", Content: userMessage(day, recent)}},
	})
	if err != nil {
		return "", err
	}

	out, err := g.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("invoke model %s: %w", g.modelID, err)
	}

	var resp messagesResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", ErrEmptyPrompt
	}
	return strings.TrimSpace(resp.Content[0].Text), nil
}

func userMessage(day Context, recent []models.DailyPrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\nSeason: %s\n", day.Date, day.Season)
	if day.SpecialEvent != "" {
		fmt.Fprintf(&b, "Special day: %s\n", day.SpecialEvent)
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent themes:\n")
		for i, p := range recent {
			if i == recentInRequest {
				break
			}
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, p.Date, p.Prompt)
		}
	}
	b.WriteString("\nWrite today's theme.")
	return b.String()
}
