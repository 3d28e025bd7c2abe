package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/upstream"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, body string) roundTripFunc {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{}}, nil
	}
}

func TestReplyWithoutKeyIsCanned(t *testing.T) {
	a := New(config.OpenAIConfig{}, logger.Nop(), WithHTTPClient(&http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			t.Fatalf("unexpected outbound call")
			return nil, nil
		}),
	}))

	reply, err := a.Reply(context.Background(), "¿Hacen envíos a Monterrey?")
	require.NoError(t, err)
	assert.Equal(t, CannedReply, reply.Text)
	assert.Equal(t, upstream.SourceFallback, reply.Source)
}

func TestReplyFromModel(t *testing.T) {
	var captured chatRequest
	var auth string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		if req.URL.String() != "http://llm.test/v1/chat/completions" {
			t.Fatalf("unexpected URL %q", req.URL.String())
		}
		if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return respond(http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":" Sí, enviamos a todo México. "}}]}`)(req)
	})
	a := New(config.OpenAIConfig{APIKey: "sk-test", Model: "tiny"}, logger.Nop(),
		WithBaseURL("http://llm.test/v1"), WithHTTPClient(&http.Client{Transport: rt}))

	reply, err := a.Reply(context.Background(), "¿Envían a Monterrey?")
	require.NoError(t, err)
	assert.Equal(t, "Sí, enviamos a todo México.", reply.Text)
	assert.Equal(t, upstream.SourceLive, reply.Source)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "tiny", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "user", captured.Messages[1].Role)
}

func TestReplyFallsBackOnModelErrors(t *testing.T) {
	cases := map[string]roundTripFunc{
		"status":  respond(http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`),
		"garbage": respond(http.StatusOK, `not json`),
		"empty":   respond(http.StatusOK, `{"choices":[]}`),
	}
	for name, rt := range cases {
		t.Run(name, func(t *testing.T) {
			a := New(config.OpenAIConfig{APIKey: "k"}, logger.Nop(), WithHTTPClient(&http.Client{Transport: rt}))
			reply, err := a.Reply(context.Background(), "hola")
			require.NoError(t, err)
			assert.Equal(t, CannedReply, reply.Text)
			assert.Equal(t, upstream.SourceFallback, reply.Source)
		})
	}
}

func TestReplyRequiresMessage(t *testing.T) {
	_, err := New(config.OpenAIConfig{}, nil).Reply(context.Background(), "   ")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
