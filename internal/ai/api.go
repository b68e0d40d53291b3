package ai

import (
	"context"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/logging"
)

// APIConfig configures the direct-API backend. Empty fields fall back
// to the launcher environment: DEFAULT_MODEL, ANTHROPIC_API_KEY, and
// the gateway pair API_BASE_URL / API_AUTH_TOKEN.
type APIConfig struct {
	// Model is the default model for requests that do not name one.
	Model string
	// APIKey authenticates against the Anthropic API directly.
	APIKey string
	// BaseURL routes requests through a gateway instead.
	BaseURL string
	// AuthToken is the gateway bearer token.
	AuthToken string
	// UseBedrock routes requests through AWS Bedrock.
	UseBedrock bool
	// AWSRegion is the Bedrock region (e.g. "us-west-2").
	AWSRegion string
	// AWSProfile is an optional shared-config profile name.
	AWSProfile string
}

// APIInvoker calls the Anthropic messages API for each completion and
// tracks cumulative token usage.
type APIInvoker struct {
	client  anthropic.Client
	model   anthropic.Model
	bedrock bool
	tracker *TokenTracker
}

// NewAPIInvoker builds the API backend. Credential resolution order:
// Bedrock when requested, then a gateway base URL, then an API key.
func NewAPIInvoker(cfg APIConfig) (*APIInvoker, error) {
	var opts []option.RequestOption

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("API_BASE_URL")
	}
	authToken := cfg.AuthToken
	if authToken == "" {
		authToken = os.Getenv("API_AUTH_TOKEN")
	}

	switch {
	case cfg.UseBedrock:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	case baseURL != "":
		opts = append(opts, option.WithBaseURL(baseURL))
		if authToken != "" {
			opts = append(opts, option.WithAuthToken(authToken))
		}
	default:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, errs.Config("ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.Model(os.Getenv("DEFAULT_MODEL"))
	}
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseBedrock {
		model = translateModelForBedrock(model)
	}

	return &APIInvoker{
		client:  anthropic.NewClient(opts...),
		model:   model,
		bedrock: cfg.UseBedrock,
		tracker: NewTokenTracker(),
	}, nil
}

// Tracker returns the cumulative usage recorded across calls.
func (a *APIInvoker) Tracker() *TokenTracker {
	return a.tracker
}

// Invoke sends one messages request and concatenates the returned text
// blocks.
func (a *APIInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	model := a.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
		if a.bedrock {
			model = translateModelForBedrock(model)
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, errs.Agent("messages request failed").Wrap(err)
	}

	a.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	logging.Debug(logging.CatAI, "api completion",
		"model", string(model),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	return Response{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// translateModelForBedrock converts standard model names to Bedrock
// cross-region inference profiles (us.anthropic.{model}-v1:0). Unknown
// names pass through unchanged; they may already be Bedrock format.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// Verify APIInvoker implements Invoker at compile time.
var _ Invoker = (*APIInvoker)(nil)
