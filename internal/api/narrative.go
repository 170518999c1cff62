package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/paolodgm/solarcast/internal/models"
)

// Narrator turns an interval forecast into a short plain-language outlook.
type Narrator struct {
	client openai.Client
	model  string
}

// NewNarrator reads OPENAI_API_KEY; without a key the narrative endpoint
// stays disabled and everything else works normally.
func NewNarrator() (*Narrator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &Narrator{
		client: client,
		model:  openai.ChatModelGPT4oMini,
	}, nil
}

func (n *Narrator) Summarize(ctx context.Context, site models.Site, preds []models.Prediction, latest *models.Observation) (string, error) {
	prompt := buildNarrativePrompt(site, preds, latest)

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: n.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You write terse solar production outlooks for plant operators. Two sentences maximum, no preamble, watts per square metre as W/m2."),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("narrative generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion returned")
	}
	return text, nil
}

func buildNarrativePrompt(site models.Site, preds []models.Prediction, latest *models.Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Site: %s. Hourly solar irradiance forecast:\n", site.Name)
	for _, p := range preds {
		fmt.Fprintf(&b, "- %s (%s): %.0f W/m2, interval [%.0f, %.0f]\n",
			p.TargetTime.Format(time.Kitchen), p.DayState, p.Point, p.Lower, p.Upper)
	}
	if latest != nil && latest.Irradiance.Valid {
		fmt.Fprintf(&b, "Currently measured: %.0f W/m2", latest.Irradiance.Float64)
		if latest.Humidity.Valid {
			fmt.Fprintf(&b, ", humidity %.0f%%", latest.Humidity.Float64)
		}
		b.WriteString(".\n")
	}
	b.WriteString("Summarise expected solar production and confidence.")
	return b.String()
}
