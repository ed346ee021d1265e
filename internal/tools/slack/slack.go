// Package slack provides messaging tools backed by the Slack Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/haasonsaas/foreman/internal/retry"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// API is the subset of the Slack client the tools use.
type API interface {
	GetUserByEmailContext(ctx context.Context, email string) (*slackapi.User, error)
	OpenConversationContext(ctx context.Context, params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	GetConversationInfoContext(ctx context.Context, input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

var _ API = (*slackapi.Client)(nil)

// Config holds Slack client settings.
type Config struct {
	// BotToken is the xoxb- token for API calls.
	BotToken string
	// APIURL overrides the Web API base URL. It must end with a slash.
	APIURL string
	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration
}

// NewClient creates a Slack Web API client.
func NewClient(cfg Config) *slackapi.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []slackapi.Option{slackapi.OptionHTTPClient(&http.Client{Timeout: timeout})}
	if cfg.APIURL != "" {
		url := cfg.APIURL
		if !strings.HasSuffix(url, "/") {
			url += "/"
		}
		opts = append(opts, slackapi.OptionAPIURL(url))
	}
	return slackapi.New(cfg.BotToken, opts...)
}

// Store is the persistence the Slack tools need.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
}

type toolset struct {
	api    API
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Tools returns the Slack tools. store may be nil, in which case recipients
// are not checked against workspace users and projects cannot be linked.
func Tools(api API, store Store) []tools.Tool {
	ts := &toolset{
		api:    api,
		store:  store,
		logger: slog.Default().With("component", "slack-tools"),
		now:    time.Now,
	}
	return []tools.Tool{ts.sendDM(), ts.sendChannel(), ts.linkProject()}
}

// Register adds the Slack tools to registry.
func Register(registry *tools.Registry, api API, store Store) error {
	return registry.RegisterAll(Tools(api, store)...)
}

// SendDMInput sends a direct message to a workspace member.
type SendDMInput struct {
	Email   string `json:"email" jsonschema:"minLength=3"`
	Message string `json:"message" jsonschema:"minLength=1,maxLength=4000"`
}

func (t *toolset) sendDM() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "slack_send_dm",
		Description: "Send a direct Slack message to a user by email",
		Scopes:      []string{tools.ScopeSlackWrite},
	}, func(ctx context.Context, _ tools.CallContext, in SendDMInput) (any, error) {
		if !strings.Contains(in.Email, "@") {
			return nil, fmt.Errorf("invalid email %q", in.Email)
		}
		if t.store != nil {
			if _, err := t.store.GetUserByEmail(ctx, in.Email); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, fmt.Errorf("user %s not found", in.Email)
				}
				return nil, fmt.Errorf("lookup user: %w", err)
			}
		}

		user, err := t.api.GetUserByEmailContext(ctx, in.Email)
		if err != nil {
			return nil, classify(fmt.Errorf("slack user lookup: %w", err))
		}
		channel, _, _, err := t.api.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{Users: []string{user.ID}})
		if err != nil {
			return nil, classify(fmt.Errorf("open conversation: %w", err))
		}
		_, ts, err := t.api.PostMessageContext(ctx, channel.ID, slackapi.MsgOptionText(in.Message, false))
		if err != nil {
			return nil, classify(fmt.Errorf("post message: %w", err))
		}
		return map[string]any{"success": true, "sentTo": in.Email, "channel": channel.ID, "ts": ts}, nil
	})
}

// SendChannelInput posts to a channel, optionally in a thread.
type SendChannelInput struct {
	Channel  string `json:"channel" jsonschema:"minLength=1"`
	Message  string `json:"message" jsonschema:"minLength=1,maxLength=4000"`
	ThreadTS string `json:"threadTs,omitempty"`
}

func (t *toolset) sendChannel() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "slack_send_channel",
		Description: "Post a message to a Slack channel",
		Scopes:      []string{tools.ScopeSlackWrite},
	}, func(ctx context.Context, _ tools.CallContext, in SendChannelInput) (any, error) {
		options := []slackapi.MsgOption{slackapi.MsgOptionText(in.Message, false)}
		if in.ThreadTS != "" {
			options = append(options, slackapi.MsgOptionTS(in.ThreadTS))
		}
		channel, ts, err := t.api.PostMessageContext(ctx, in.Channel, options...)
		if err != nil {
			return nil, classify(fmt.Errorf("post message: %w", err))
		}
		return map[string]any{"success": true, "channel": channel, "ts": ts}, nil
	})
}

// LinkProjectInput links a project to a channel.
type LinkProjectInput struct {
	ProjectID   string `json:"projectId" jsonschema:"minLength=1"`
	ChannelID   string `json:"channelId" jsonschema:"minLength=1"`
	ChannelName string `json:"channelName" jsonschema:"minLength=1"`
}

func (t *toolset) linkProject() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "slack_link_project",
		Description: "Link a project to a Slack channel",
		Mutates:     true,
		Scopes:      []string{tools.ScopeSlackWrite, tools.ScopeWriteProjects},
	}, func(ctx context.Context, _ tools.CallContext, in LinkProjectInput) (any, error) {
		if t.store == nil {
			return nil, fmt.Errorf("project store not configured")
		}
		if _, err := t.api.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{ChannelID: in.ChannelID}); err != nil {
			return nil, classify(fmt.Errorf("channel %s: %w", in.ChannelID, err))
		}
		project, err := t.store.GetProject(ctx, in.ProjectID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("project %s not found", in.ProjectID)
			}
			return nil, fmt.Errorf("get project: %w", err)
		}
		project.SlackChannelID = in.ChannelID
		project.SlackChannelName = in.ChannelName
		project.UpdatedAt = t.now()
		if err := t.store.UpdateProject(ctx, project); err != nil {
			return nil, fmt.Errorf("update project: %w", err)
		}
		t.logger.Info("linked project to slack channel", "project_id", in.ProjectID, "channel_id", in.ChannelID)
		return map[string]any{"success": true, "linked": true, "projectId": in.ProjectID, "channelId": in.ChannelID}, nil
	})
}

// classify tags Slack transport failures with retry classes so the network
// retry profile recognizes them.
func classify(err error) error {
	var rateLimited *slackapi.RateLimitedError
	if errors.As(err, &rateLimited) {
		return retry.WithClass("RATE_LIMIT", err)
	}
	var status slackapi.StatusCodeError
	if errors.As(err, &status) {
		return retry.WithStatus(status.Code, err)
	}
	return err
}
