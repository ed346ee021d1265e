package slack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	slackapi "github.com/slack-go/slack"

	"github.com/haasonsaas/foreman/internal/retry"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// mockAPI implements API with overridable funcs.
type mockAPI struct {
	GetUserByEmailFunc   func(ctx context.Context, email string) (*slackapi.User, error)
	OpenConversationFunc func(ctx context.Context, params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	ConversationInfoFunc func(ctx context.Context, input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	PostMessageFunc      func(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)

	posted []string
}

func (m *mockAPI) GetUserByEmailContext(ctx context.Context, email string) (*slackapi.User, error) {
	if m.GetUserByEmailFunc != nil {
		return m.GetUserByEmailFunc(ctx, email)
	}
	return &slackapi.User{ID: "U123"}, nil
}

func (m *mockAPI) OpenConversationContext(ctx context.Context, params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error) {
	if m.OpenConversationFunc != nil {
		return m.OpenConversationFunc(ctx, params)
	}
	ch := &slackapi.Channel{}
	ch.ID = "D" + params.Users[0]
	return ch, false, false, nil
}

func (m *mockAPI) GetConversationInfoContext(ctx context.Context, input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error) {
	if m.ConversationInfoFunc != nil {
		return m.ConversationInfoFunc(ctx, input)
	}
	ch := &slackapi.Channel{}
	ch.ID = input.ChannelID
	return ch, nil
}

func (m *mockAPI) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.posted = append(m.posted, channelID)
	if m.PostMessageFunc != nil {
		return m.PostMessageFunc(ctx, channelID, options...)
	}
	return channelID, "1700000000.000100", nil
}

var pmCall = tools.CallContext{UserID: "pm-1", Role: models.RolePM, Permissions: tools.ScopesForRole(models.RolePM)}

func newRegistry(t *testing.T, api API, store Store) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	if err := Register(registry, api, store); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return registry
}

func TestSendDM(t *testing.T) {
	store := storage.NewMemoryStore()
	_ = store.CreateUser(context.Background(), &models.User{ID: "u1", Email: "dana@example.com"})

	tests := []struct {
		name        string
		input       map[string]any
		api         *mockAPI
		errContains string
		wantPosted  string
	}{
		{
			name:       "success",
			input:      map[string]any{"email": "dana@example.com", "message": "Standup in 5"},
			api:        &mockAPI{},
			wantPosted: "DU123",
		},
		{
			name:        "unknown workspace user",
			input:       map[string]any{"email": "ghost@example.com", "message": "hi"},
			api:         &mockAPI{},
			errContains: "user ghost@example.com not found",
		},
		{
			name:  "slack lookup fails",
			input: map[string]any{"email": "dana@example.com", "message": "hi"},
			api: &mockAPI{GetUserByEmailFunc: func(context.Context, string) (*slackapi.User, error) {
				return nil, errors.New("users_not_found")
			}},
			errContains: "slack user lookup",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := newRegistry(t, tt.api, store)
			out, err := registry.Execute(context.Background(), "slack_send_dm", pmCall, tt.input)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("error = %v, want containing %q", err, tt.errContains)
				}
				if len(tt.api.posted) != 0 {
					t.Error("no message should be posted on failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if len(tt.api.posted) != 1 || tt.api.posted[0] != tt.wantPosted {
				t.Errorf("posted = %v, want [%s]", tt.api.posted, tt.wantPosted)
			}
			if out.(map[string]any)["sentTo"] != "dana@example.com" {
				t.Errorf("out = %v", out)
			}
		})
	}
}

func TestSendChannel_MessageLength(t *testing.T) {
	registry := newRegistry(t, &mockAPI{}, nil)
	_, err := registry.Execute(context.Background(), "slack_send_channel", pmCall, map[string]any{
		"channel": "C1",
		"message": strings.Repeat("x", 4001),
	})
	if !tools.IsSchemaValidation(err) {
		t.Errorf("expected schema validation error, got %v", err)
	}
}

func TestLinkProject(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.CreateProject(ctx, &models.Project{ID: "p1", Title: "Portal"})

	registry := newRegistry(t, &mockAPI{}, store)
	tool, _ := registry.Get("slack_link_project")
	if !tool.Mutates() {
		t.Error("slack_link_project must be mutating")
	}
	if !tools.HasAllScopes(pmCall.Permissions, tool.Scopes()) {
		t.Error("pm should hold every scope of slack_link_project")
	}

	if _, err := registry.Execute(ctx, "slack_link_project", pmCall, map[string]any{
		"projectId": "p1", "channelId": "C42", "channelName": "proj-portal",
	}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	project, _ := store.GetProject(ctx, "p1")
	if project.SlackChannelID != "C42" || project.SlackChannelName != "proj-portal" {
		t.Errorf("project = %+v", project)
	}

	missing := &mockAPI{ConversationInfoFunc: func(context.Context, *slackapi.GetConversationInfoInput) (*slackapi.Channel, error) {
		return nil, errors.New("channel_not_found")
	}}
	registry = newRegistry(t, missing, store)
	_, err := registry.Execute(ctx, "slack_link_project", pmCall, map[string]any{
		"projectId": "p1", "channelId": "C404", "channelName": "gone",
	})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("expected channel error, got %v", err)
	}
}

func TestClient_PostMessageOverHTTP(t *testing.T) {
	var gotChannel, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		gotChannel = r.FormValue("channel")
		gotText = r.FormValue("text")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000200"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BotToken: "xoxb-test", APIURL: server.URL})
	registry := newRegistry(t, client, nil)

	out, err := registry.Execute(context.Background(), "slack_send_channel", pmCall, map[string]any{
		"channel": "C1",
		"message": "Deploy finished",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotChannel != "C1" || gotText != "Deploy finished" {
		t.Errorf("server saw channel=%q text=%q", gotChannel, gotText)
	}
	if out.(map[string]any)["ts"] != "1700000000.000200" {
		t.Errorf("out = %v", out)
	}
}

func TestClient_RateLimitIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{BotToken: "xoxb-test", APIURL: server.URL + "/"})
	registry := newRegistry(t, client, nil)

	_, err := registry.Execute(context.Background(), "slack_send_channel", pmCall, map[string]any{
		"channel": "C1",
		"message": "hello",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !retry.Matches(err, retry.NetworkClasses) {
		t.Errorf("rate limited error should match network classes: %v", err)
	}
}
