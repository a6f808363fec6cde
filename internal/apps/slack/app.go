// Package slack exposes Slack Web API methods through slack-go. The client is built
// per call from the integration's token so rotated tokens are picked up.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/ca-srg/toolbelt/internal/application"
)

const Name = "slack"

// slackAPI is the subset of *slack.Client the application calls.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	ListReactionsContext(ctx context.Context, params slack.ListReactionsParameters) ([]slack.ReactedItem, *slack.Paging, error)
	SearchMessagesContext(ctx context.Context, query string, params slack.SearchParameters) (*slack.SearchMessages, error)
	GetTeamInfoContext(ctx context.Context) (*slack.TeamInfo, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetUsersPaginated(options ...slack.GetUsersOption) slack.UserPagination
}

// App is the Slack application.
type App struct {
	application.Base
	newClient func(token string) slackAPI
}

// Option configures the application.
type Option func(*App)

// WithAPIURL points the client at another Slack API endpoint.
func WithAPIURL(apiURL string) Option {
	return func(a *App) {
		a.newClient = func(token string) slackAPI {
			return slack.New(token, slack.OptionAPIURL(apiURL))
		}
	}
}

// Message is a condensed Slack message.
type Message struct {
	Channel    string `json:"channel,omitempty"`
	User       string `json:"user,omitempty"`
	Username   string `json:"username,omitempty"`
	Text       string `json:"text"`
	Timestamp  string `json:"ts"`
	ThreadTS   string `json:"thread_ts,omitempty"`
	ReplyCount int    `json:"reply_count,omitempty"`
	Permalink  string `json:"permalink,omitempty"`
}

// Channel is a condensed conversation.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrivate  bool   `json:"is_private"`
	IsArchived bool   `json:"is_archived"`
	NumMembers int    `json:"num_members"`
	Topic      string `json:"topic,omitempty"`
	Purpose    string `json:"purpose,omitempty"`
}

// PostResult identifies a posted or modified message.
type PostResult struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"ts"`
	Text      string `json:"text,omitempty"`
}

// HistoryResult is one page of channel history.
type HistoryResult struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ChannelsResult is one page of conversations.
type ChannelsResult struct {
	Channels   []Channel `json:"channels"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// SearchResult is one page of search matches.
type SearchResult struct {
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	Pages   int       `json:"pages"`
	Matches []Message `json:"matches"`
}

// ReactionsResult is one page of reacted items.
type ReactionsResult struct {
	Items []slack.ReactedItem `json:"items"`
	Page  int                 `json:"page"`
	Pages int                 `json:"pages"`
}

// Team describes the workspace.
type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	EmailDomain string `json:"email_domain,omitempty"`
}

// User is a condensed workspace member.
type User struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id,omitempty"`
	Name        string `json:"name"`
	RealName    string `json:"real_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Title       string `json:"title,omitempty"`
	Email       string `json:"email,omitempty"`
	TZ          string `json:"tz,omitempty"`
	Locale      string `json:"locale,omitempty"`
	IsBot       bool   `json:"is_bot"`
	IsAdmin     bool   `json:"is_admin"`
	Deleted     bool   `json:"deleted"`
	Presence    string `json:"presence,omitempty"`
}

// UsersResult lists workspace members.
type UsersResult struct {
	Users []User `json:"users"`
	Count int    `json:"count"`
}

type userInfoInput struct {
	User string `json:"user" validate:"required" jsonschema:"user ID, e.g. U0123ABC"`
}

type usersListInput struct {
	Limit           int    `json:"limit,omitempty" validate:"omitempty,gte=1,lte=5000" jsonschema:"maximum number of users to return, 100 by default"`
	TeamID          string `json:"team_id,omitempty" jsonschema:"team for org-wide apps"`
	IncludePresence bool   `json:"include_presence,omitempty" jsonschema:"include each user's presence"`
}

type postInput struct {
	Channel        string `json:"channel" validate:"required" jsonschema:"channel ID or name"`
	Text           string `json:"text" validate:"required" jsonschema:"message text in mrkdwn"`
	ThreadTS       string `json:"thread_ts,omitempty" jsonschema:"reply in this thread"`
	ReplyBroadcast bool   `json:"reply_broadcast,omitempty" jsonschema:"also post a thread reply to the channel"`
}

type updateInput struct {
	Channel   string `json:"channel" validate:"required" jsonschema:"channel ID"`
	Timestamp string `json:"ts" validate:"required" jsonschema:"timestamp of the message to update"`
	Text      string `json:"text" validate:"required" jsonschema:"new text"`
}

type deleteInput struct {
	Channel   string `json:"channel" validate:"required" jsonschema:"channel ID"`
	Timestamp string `json:"ts" validate:"required" jsonschema:"timestamp of the message to delete"`
}

type historyInput struct {
	Channel   string `json:"channel" validate:"required" jsonschema:"channel ID"`
	Cursor    string `json:"cursor,omitempty" jsonschema:"pagination cursor"`
	Latest    string `json:"latest,omitempty" jsonschema:"only messages before this timestamp"`
	Oldest    string `json:"oldest,omitempty" jsonschema:"only messages after this timestamp"`
	Inclusive bool   `json:"inclusive,omitempty" jsonschema:"include messages at latest and oldest"`
	Limit     int    `json:"limit,omitempty" validate:"omitempty,gte=1,lte=999" jsonschema:"page size, 100 by default"`
}

type listInput struct {
	Cursor          string   `json:"cursor,omitempty" jsonschema:"pagination cursor"`
	ExcludeArchived bool     `json:"exclude_archived,omitempty" jsonschema:"skip archived channels"`
	Limit           int      `json:"limit,omitempty" validate:"omitempty,gte=1,lte=1000" jsonschema:"page size, 100 by default"`
	Types           []string `json:"types,omitempty" validate:"omitempty,dive,oneof=public_channel private_channel mpim im" jsonschema:"conversation types, public_channel by default"`
	TeamID          string   `json:"team_id,omitempty" jsonschema:"team for org-wide apps"`
}

type reactionInput struct {
	Channel   string `json:"channel" validate:"required" jsonschema:"channel ID"`
	Timestamp string `json:"timestamp" validate:"required" jsonschema:"message timestamp"`
	Name      string `json:"name" validate:"required" jsonschema:"emoji name without colons"`
}

type reactionsListInput struct {
	User  string `json:"user,omitempty" jsonschema:"list reactions by this user; the token owner by default"`
	Count int    `json:"count,omitempty" validate:"omitempty,gte=1,lte=1000" jsonschema:"items per page"`
	Page  int    `json:"page,omitempty" validate:"omitempty,gte=1" jsonschema:"page number"`
	Full  bool   `json:"full,omitempty" jsonschema:"return the complete reaction list"`
}

type searchInput struct {
	Query     string `json:"query" validate:"required" jsonschema:"Slack search query, modifiers such as in:#channel allowed"`
	Count     int    `json:"count,omitempty" validate:"omitempty,gte=1,lte=100" jsonschema:"results per page, 20 by default"`
	Page      int    `json:"page,omitempty" validate:"omitempty,gte=1" jsonschema:"page number"`
	Sort      string `json:"sort,omitempty" validate:"omitempty,oneof=score timestamp" jsonschema:"score or timestamp"`
	SortDir   string `json:"sort_dir,omitempty" validate:"omitempty,oneof=asc desc" jsonschema:"asc or desc"`
	Highlight bool   `json:"highlight,omitempty" jsonschema:"mark matching terms"`
}

type emptyInput struct{}

// New creates the application.
func New(integration application.Integration, opts ...Option) *App {
	a := &App{
		Base: application.NewBase(Name, integration),
		newClient: func(token string) slackAPI {
			return slack.New(token)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("chat_post_message", "Posts a message to a channel, optionally as a thread reply.",
			a.postMessage, application.Important(), application.WithTags("chat", "message")),
		application.NewTool("chat_update", "Edits a message previously posted by the token owner.",
			a.updateMessage, application.WithTags("chat", "message")),
		application.NewTool("chat_delete", "Deletes a message.",
			a.deleteMessage, application.Destructive(), application.WithTags("chat", "message")),
		application.NewTool("conversations_history", "Reads one page of a channel's message history.",
			a.history, application.Important(), application.ReadOnly(), application.WithTags("conversations")),
		application.NewTool("conversations_list", "Lists one page of channels in the workspace.",
			a.listConversations, application.Important(), application.ReadOnly(), application.WithTags("conversations")),
		application.NewTool("reactions_add", "Adds an emoji reaction to a message.",
			a.addReaction, application.WithTags("reactions")),
		application.NewTool("reactions_list", "Lists items a user reacted to.",
			a.listReactions, application.ReadOnly(), application.WithTags("reactions")),
		application.NewTool("search_messages", "Searches messages with Slack search syntax.",
			a.searchMessages, application.Important(), application.ReadOnly(), application.WithTags("search")),
		application.NewTool("team_info", "Returns the workspace name and domain.",
			a.teamInfo, application.ReadOnly(), application.WithTags("team")),
		application.NewTool("get_user_info", "Returns the profile of one user, including locale.",
			a.userInfo, application.ReadOnly(), application.WithTags("users")),
		application.NewTool("users_list", "Lists workspace members, deactivated ones included, up to limit.",
			a.listUsers, application.ReadOnly(), application.WithTags("users")),
	}
}

func (a *App) client(ctx context.Context) (slackAPI, error) {
	token, err := a.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return a.newClient(token), nil
}

func (a *App) postMessage(ctx context.Context, in postInput) (PostResult, error) {
	c, err := a.client(ctx)
	if err != nil {
		return PostResult{}, err
	}
	options := []slack.MsgOption{slack.MsgOptionText(in.Text, false)}
	if in.ThreadTS != "" {
		options = append(options, slack.MsgOptionTS(in.ThreadTS))
		if in.ReplyBroadcast {
			options = append(options, slack.MsgOptionBroadcast())
		}
	}
	channel, ts, err := c.PostMessageContext(ctx, in.Channel, options...)
	if err != nil {
		return PostResult{}, classifySlackError("chat.postMessage", err)
	}
	return PostResult{Channel: channel, Timestamp: ts}, nil
}

func (a *App) updateMessage(ctx context.Context, in updateInput) (PostResult, error) {
	c, err := a.client(ctx)
	if err != nil {
		return PostResult{}, err
	}
	channel, ts, text, err := c.UpdateMessageContext(ctx, in.Channel, in.Timestamp, slack.MsgOptionText(in.Text, false))
	if err != nil {
		return PostResult{}, classifySlackError("chat.update", err)
	}
	return PostResult{Channel: channel, Timestamp: ts, Text: text}, nil
}

func (a *App) deleteMessage(ctx context.Context, in deleteInput) (PostResult, error) {
	c, err := a.client(ctx)
	if err != nil {
		return PostResult{}, err
	}
	channel, ts, err := c.DeleteMessageContext(ctx, in.Channel, in.Timestamp)
	if err != nil {
		return PostResult{}, classifySlackError("chat.delete", err)
	}
	return PostResult{Channel: channel, Timestamp: ts}, nil
}

func (a *App) history(ctx context.Context, in historyInput) (HistoryResult, error) {
	c, err := a.client(ctx)
	if err != nil {
		return HistoryResult{}, err
	}
	limit := in.Limit
	if limit == 0 {
		limit = 100
	}
	resp, err := c.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: in.Channel,
		Cursor:    in.Cursor,
		Latest:    in.Latest,
		Oldest:    in.Oldest,
		Inclusive: in.Inclusive,
		Limit:     limit,
	})
	if err != nil {
		return HistoryResult{}, classifySlackError("conversations.history", err)
	}

	out := HistoryResult{Messages: make([]Message, 0, len(resp.Messages)), HasMore: resp.HasMore, NextCursor: resp.ResponseMetaData.NextCursor}
	for _, m := range resp.Messages {
		msg := fromMessage(m)
		msg.Channel = in.Channel
		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}

func (a *App) listConversations(ctx context.Context, in listInput) (ChannelsResult, error) {
	c, err := a.client(ctx)
	if err != nil {
		return ChannelsResult{}, err
	}
	limit := in.Limit
	if limit == 0 {
		limit = 100
	}
	channels, next, err := c.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		Cursor:          in.Cursor,
		ExcludeArchived: in.ExcludeArchived,
		Limit:           limit,
		Types:           in.Types,
		TeamID:          in.TeamID,
	})
	if err != nil {
		return ChannelsResult{}, classifySlackError("conversations.list", err)
	}

	out := ChannelsResult{Channels: make([]Channel, 0, len(channels)), NextCursor: next}
	for _, ch := range channels {
		out.Channels = append(out.Channels, Channel{
			ID:         ch.ID,
			Name:       ch.Name,
			IsPrivate:  ch.IsPrivate,
			IsArchived: ch.IsArchived,
			NumMembers: ch.NumMembers,
			Topic:      ch.Topic.Value,
			Purpose:    ch.Purpose.Value,
		})
	}
	return out, nil
}

func (a *App) addReaction(ctx context.Context, in reactionInput) (map[string]bool, error) {
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.AddReactionContext(ctx, in.Name, slack.NewRefToMessage(in.Channel, in.Timestamp)); err != nil {
		return nil, classifySlackError("reactions.add", err)
	}
	return map[string]bool{"ok": true}, nil
}

func (a *App) listReactions(ctx context.Context, in reactionsListInput) (ReactionsResult, error) {
	c, err := a.client(ctx)
	if err != nil {
		return ReactionsResult{}, err
	}
	params := slack.NewListReactionsParameters()
	params.User = in.User
	params.Full = in.Full
	if in.Count > 0 {
		params.Count = in.Count
	}
	if in.Page > 0 {
		params.Page = in.Page
	}
	items, paging, err := c.ListReactionsContext(ctx, params)
	if err != nil {
		return ReactionsResult{}, classifySlackError("reactions.list", err)
	}
	out := ReactionsResult{Items: items}
	if out.Items == nil {
		out.Items = []slack.ReactedItem{}
	}
	if paging != nil {
		out.Page, out.Pages = paging.Page, paging.Pages
	}
	return out, nil
}

func (a *App) searchMessages(ctx context.Context, in searchInput) (SearchResult, error) {
	c, err := a.client(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	params := slack.NewSearchParameters()
	if in.Count > 0 {
		params.Count = in.Count
	}
	if in.Page > 0 {
		params.Page = in.Page
	}
	if in.Sort != "" {
		params.Sort = in.Sort
	}
	if in.SortDir != "" {
		params.SortDirection = in.SortDir
	}
	params.Highlight = in.Highlight

	resp, err := c.SearchMessagesContext(ctx, in.Query, params)
	if err != nil {
		return SearchResult{}, classifySlackError("search.messages", err)
	}

	out := SearchResult{Total: resp.Total, Page: resp.Paging.Page, Pages: resp.Paging.Pages, Matches: make([]Message, 0, len(resp.Matches))}
	for _, m := range resp.Matches {
		out.Matches = append(out.Matches, Message{
			Channel:   m.Channel.ID,
			User:      m.User,
			Username:  m.Username,
			Text:      m.Text,
			Timestamp: m.Timestamp,
			Permalink: m.Permalink,
		})
	}
	return out, nil
}

func (a *App) teamInfo(ctx context.Context, _ emptyInput) (Team, error) {
	c, err := a.client(ctx)
	if err != nil {
		return Team{}, err
	}
	info, err := c.GetTeamInfoContext(ctx)
	if err != nil {
		return Team{}, classifySlackError("team.info", err)
	}
	return Team{ID: info.ID, Name: info.Name, Domain: info.Domain, EmailDomain: info.EmailDomain}, nil
}

func (a *App) userInfo(ctx context.Context, in userInfoInput) (User, error) {
	c, err := a.client(ctx)
	if err != nil {
		return User{}, err
	}
	u, err := c.GetUserInfoContext(ctx, in.User)
	if err != nil {
		return User{}, classifySlackError("users.info", err)
	}
	return fromUser(*u), nil
}

const maxUsersPage = 200

// listUsers walks users.list pages until limit users are collected. slack-go
// keeps the cursor internal, so paging is driven here rather than by the caller.
func (a *App) listUsers(ctx context.Context, in usersListInput) (UsersResult, error) {
	c, err := a.client(ctx)
	if err != nil {
		return UsersResult{}, err
	}
	limit := in.Limit
	if limit == 0 {
		limit = 100
	}
	opts := []slack.GetUsersOption{
		slack.GetUsersOptionLimit(min(limit, maxUsersPage)),
		slack.GetUsersOptionPresence(in.IncludePresence),
	}
	if in.TeamID != "" {
		opts = append(opts, slack.GetUsersOptionTeamID(in.TeamID))
	}

	out := UsersResult{Users: []User{}}
	page := c.GetUsersPaginated(opts...)
	for len(out.Users) < limit {
		page, err = page.Next(ctx)
		if page.Done(err) {
			break
		}
		if err != nil {
			return UsersResult{}, classifySlackError("users.list", err)
		}
		for _, u := range page.Users {
			out.Users = append(out.Users, fromUser(u))
		}
	}
	if len(out.Users) > limit {
		out.Users = out.Users[:limit]
	}
	out.Count = len(out.Users)
	return out, nil
}

func fromUser(u slack.User) User {
	return User{
		ID:          u.ID,
		TeamID:      u.TeamID,
		Name:        u.Name,
		RealName:    u.RealName,
		DisplayName: u.Profile.DisplayName,
		Title:       u.Profile.Title,
		Email:       u.Profile.Email,
		TZ:          u.TZ,
		Locale:      u.Locale,
		IsBot:       u.IsBot,
		IsAdmin:     u.IsAdmin,
		Deleted:     u.Deleted,
		Presence:    u.Presence,
	}
}

func fromMessage(m slack.Message) Message {
	return Message{
		User:       m.User,
		Username:   m.Username,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
		ThreadTS:   m.ThreadTimestamp,
		ReplyCount: m.ReplyCount,
	}
}

var authErrorCodes = map[string]bool{
	"not_authed":       true,
	"invalid_auth":     true,
	"token_revoked":    true,
	"token_expired":    true,
	"account_inactive": true,
	"missing_scope":    true,
}

// classifySlackError maps slack-go errors onto the shared error kinds.
func classifySlackError(method string, err error) error {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return &application.HTTPError{
			StatusCode: http.StatusTooManyRequests,
			Method:     method,
			Message:    fmt.Sprintf("rate limited, retry after %s", rateLimited.RetryAfter),
			Retryable:  true,
		}
	}

	var slackErr slack.SlackErrorResponse
	if errors.As(err, &slackErr) {
		if authErrorCodes[slackErr.Err] {
			return &application.NotAuthorizedError{App: Name, Message: slackErr.Err, Cause: err}
		}
		return &application.HTTPError{StatusCode: http.StatusBadRequest, Method: method, Message: slackErr.Err}
	}

	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return &application.HTTPError{
			StatusCode: statusErr.Code,
			Method:     method,
			Message:    statusErr.Status,
			Retryable:  statusErr.Code >= http.StatusInternalServerError,
		}
	}

	return fmt.Errorf("slack %s: %w", method, err)
}
