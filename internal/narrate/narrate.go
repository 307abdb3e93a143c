// Package narrate asks a language model for a short plain-language summary of
// a comparison report.
package narrate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/lox/etdemand/internal/models"
)

const DefaultModel = openai.ChatModelGPT4oMini

const systemPrompt = "You review groundwater model validation runs. Summarize in at most three sentences " +
	"whether the coupled agricultural-demand run reproduces the reference pumping, citing the numbers given. " +
	"Do not speculate about causes that are not in the data."

type Narrator struct {
	client openai.Client
	model  string
	log    *zap.Logger
}

// New returns a narrator using apiKey. Extra request options, such as a
// base URL, are passed to the client.
func New(apiKey, model string, log *zap.Logger, opts ...option.RequestOption) (*Narrator, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	if model == "" {
		model = string(DefaultModel)
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Narrator{client: client, model: model, log: log}, nil
}

// Summarize returns the model's summary of res.
func (n *Narrator) Summarize(ctx context.Context, res *models.ComparisonResult) (string, error) {
	prompt := Prompt(res)
	n.log.Debug("requesting summary", zap.String("model", n.model), zap.Int("prompt_bytes", len(prompt)))

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(n.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summary request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no summary returned")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty summary returned")
	}
	return text, nil
}

// Prompt renders the comparison as the user message.
func Prompt(res *models.ComparisonResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model: %s\n", res.Model)
	for i, e := range res.Entities {
		fmt.Fprintf(&b, "Well %d (provider %d, reference node %d, %d daily steps): coupled %.4f acre-ft, reference %.4f acre-ft\n",
			i+1, e.ProviderID, e.ReferenceNode, len(e.Reference), e.VolumeCoupled, e.VolumeReference)
	}
	if math.IsNaN(res.RSquared) {
		b.WriteString("R²: undefined (no variance)\n")
	} else {
		fmt.Fprintf(&b, "R²: %.3f\n", res.RSquared)
	}
	fmt.Fprintf(&b, "Total pumping: coupled %.1f m³, reference %.1f m³, difference %.1f m³\n",
		res.TotalCoupled, res.TotalReference, res.Discrepancy)
	return b.String()
}
