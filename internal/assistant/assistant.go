// Package assistant answers shopper questions through an OpenAI-compatible
// chat completions API, falling back to a fixed reply.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/upstream"
)

const (
	serviceName         = "assistant"
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
	defaultTimeout      = 10 * time.Second
	maxMessageRunes     = 1000
	responseReadLimit   = 1 << 16
	maxCompletionTokens = 300

	systemPrompt = "Eres el asistente de una tienda de ropa en línea en México. " +
		"Responde en español, de forma breve y amable. Los precios están en MXN. " +
		"Ofrecemos envío nacional, envío a Estados Unidos y recolección en tienda. " +
		"Se acepta pago con tarjeta y, para pedidos en México, en efectivo con OXXO."

	// CannedReply is returned whenever the model is not reachable.
	CannedReply = "¡Hola! Por ahora no puedo responder en línea. Enviamos a todo México y a Estados Unidos, " +
		"también puedes recoger tu pedido en tienda. Aceptamos tarjeta y OXXO. " +
		"Escríbenos por nuestras redes y te ayudamos."
)

// Reply is an answer plus where it came from.
type Reply struct {
	Text   string
	Source upstream.Source
}

type Assistant struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logg       *logger.Logger
}

// Option configures optional assistant behavior.
type Option func(*Assistant)

func WithHTTPClient(client *http.Client) Option {
	return func(a *Assistant) {
		if client != nil {
			a.httpClient = client
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(a *Assistant) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			a.baseURL = trimmed
		}
	}
}

func New(cfg config.OpenAIConfig, logg *logger.Logger, opts ...Option) *Assistant {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	a := &Assistant{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSpace(cfg.BaseURL),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		logg:       logg,
	}
	if a.baseURL == "" {
		a.baseURL = defaultBaseURL
	}
	if a.model == "" {
		a.model = defaultModel
	}
	if a.logg == nil {
		a.logg = logger.Nop()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Enabled reports whether a model credential is configured.
func (a *Assistant) Enabled() bool {
	return a != nil && a.apiKey != ""
}

// Reply answers message. Model failures degrade to CannedReply; only an empty
// message is an error.
func (a *Assistant) Reply(ctx context.Context, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, pkgerrors.New(pkgerrors.CodeValidation, "message is required")
	}
	if runes := []rune(message); len(runes) > maxMessageRunes {
		message = string(runes[:maxMessageRunes])
	}

	text, err := a.complete(ctx, message)
	result := upstream.Resolve(text, err, upstream.FallbackTo(func() string { return CannedReply }))
	if result.Err != nil {
		return Reply{}, result.Err
	}
	if result.Degraded() && !errors.Is(result.Cause, errNoCredential) {
		a.logg.Warn(ctx, "assistant.fallback_reply", result.Cause)
	}
	return Reply{Text: result.Value, Source: result.Source}, nil
}

var errNoCredential = errors.New("assistant api key not configured")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (a *Assistant) complete(ctx context.Context, message string) (string, error) {
	if !a.Enabled() {
		return "", upstream.Unavailable(serviceName, errNoCredential)
	}

	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: message},
		},
		MaxTokens: maxCompletionTokens,
	})
	if err != nil {
		return "", upstream.Unavailable(serviceName, fmt.Errorf("marshal chat request: %w", err))
	}

	url := strings.TrimRight(a.baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", upstream.Unavailable(serviceName, fmt.Errorf("build chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", upstream.Unavailable(serviceName, fmt.Errorf("execute chat request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	if err != nil {
		return "", upstream.Unavailable(serviceName, fmt.Errorf("read chat response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", upstream.Unavailable(serviceName, fmt.Errorf("chat status %d", resp.StatusCode))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", upstream.Unavailable(serviceName, fmt.Errorf("decode chat response: %w", err))
	}
	for _, choice := range decoded.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text, nil
		}
	}
	return "", upstream.Unavailable(serviceName, errors.New("empty chat response"))
}
