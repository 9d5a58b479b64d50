package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TobiSchelling/topicheat/internal/config"
)

// Provider is the opaque classification call: a system and a user prompt in,
// the model's raw text out.
type Provider interface {
	Classify(ctx context.Context, system, user string) (string, error)
	IsConfigured() bool
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model     string
	BaseURL   string
	MaxTokens int
	client    *http.Client
}

// NewOllamaProvider creates a new Ollama provider. Call timeouts come from
// the caller's context.
func NewOllamaProvider(model, baseURL string, maxTokens int) *OllamaProvider {
	return &OllamaProvider{
		Model:     model,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		MaxTokens: maxTokens,
		client:    &http.Client{},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	return false
}

// Classify sends the prompts to Ollama's chat endpoint.
func (o *OllamaProvider) Classify(ctx context.Context, system, user string) (string, error) {
	messages := make([]map[string]string, 0, 2)
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": user})

	body := map[string]any{
		"model":    o.Model,
		"messages": messages,
		"stream":   false,
		"options": map[string]any{
			"num_predict": o.MaxTokens,
			"temperature": 0.2,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", eris.Wrap(err, "marshaling request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", eris.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "ollama API error")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", eris.Errorf("ollama API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", eris.Wrap(err, "decoding response")
	}

	return result.Message.Content, nil
}

// OpenAIProvider calls an OpenAI-compatible Responses endpoint.
type OpenAIProvider struct {
	Model     string
	MaxTokens int
	apiKey    string
	client    openai.Client
}

// NewOpenAIProvider creates a provider reading its key from apiKeyEnv.
// baseURL may be empty for the public API.
func NewOpenAIProvider(model, apiKeyEnv, baseURL string, maxTokens int) *OpenAIProvider {
	key := os.Getenv(apiKeyEnv)
	opts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		Model:     model,
		MaxTokens: maxTokens,
		apiKey:    key,
		client:    openai.NewClient(opts...),
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.apiKey != ""
}

// Classify sends the prompts and returns the response output text.
func (o *OpenAIProvider) Classify(ctx context.Context, system, user string) (string, error) {
	if o.apiKey == "" {
		return "", eris.New("OpenAI API key not configured")
	}

	params := responses.ResponseNewParams{
		Model:           o.Model,
		MaxOutputTokens: openai.Int(int64(o.MaxTokens)),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(user, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", eris.Wrap(err, "OpenAI API error")
	}
	return resp.OutputText(), nil
}

// CreateProvider creates an LLM provider based on configuration, wrapped
// with the configured retry policy. Ollama falls back to OpenAI when it is
// not reachable. It returns nil when no provider is usable.
func CreateProvider(cfg config.LLM, logger *zerolog.Logger) Provider {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	var base Provider
	if strings.ToLower(cfg.Provider) == "ollama" {
		p := NewOllamaProvider(cfg.Model, cfg.OllamaURL, cfg.MaxTokens)
		if p.IsConfigured() {
			logger.Info().Str("provider", "ollama").Str("model", cfg.Model).Msg("using LLM provider")
			base = p
		} else {
			logger.Warn().Str("url", cfg.OllamaURL).Msg("ollama not available, trying OpenAI fallback")
		}
	}

	if base == nil {
		p := NewOpenAIProvider(cfg.OpenAIModel, cfg.APIKeyEnv, cfg.OpenAIBaseURL, cfg.MaxTokens)
		if !p.IsConfigured() {
			logger.Error().Str("env", cfg.APIKeyEnv).Msg("no LLM provider available; check Ollama is running or set the API key")
			return nil
		}
		logger.Info().Str("provider", "openai").Str("model", cfg.OpenAIModel).Msg("using LLM provider")
		base = p
	}

	return &Retrying{
		Provider: base,
		Attempts: cfg.Retries,
		Backoff:  cfg.Backoff(),
		Timeout:  cfg.CallTimeout(),
		Logger:   logger,
	}
}
