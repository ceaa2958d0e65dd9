package slack

import (
	"context"
	"fmt"
	"log/slog"

	slackgo "github.com/slack-go/slack"
)

// ClientConfig holds the page-size bounds for the paginated calls.
type ClientConfig struct {
	ChannelPageSize int // conversations.list page size
	MessagePageSize int // conversations.history/replies page size
	UserPageSize    int // users.list page size
	MaxPages        int // hard cap per drain
	Limiter         LimiterConfig
}

// Normalize fills zero values with the defaults the original service
// tiers tolerate well.
func (c *ClientConfig) Normalize() {
	if c.ChannelPageSize <= 0 {
		c.ChannelPageSize = 200
	}
	if c.MessagePageSize <= 0 {
		c.MessagePageSize = 200
	}
	if c.UserPageSize <= 0 {
		c.UserPageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 1000
	}
	c.Limiter.Normalize()
}

// Client is the rate-limited, paginated gateway to the Slack API.
// All outbound calls go through the shared Limiter; listings go through
// the Pager. It is safe for concurrent use.
type Client struct {
	api     *slackgo.Client
	creds   *Credentials
	cfg     ClientConfig
	limiter *Limiter
	pager   *Pager
	log     *slog.Logger
}

// NewClient creates a Client for the given credentials.
func NewClient(creds *Credentials, cfg ClientConfig, log *slog.Logger) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if log == nil {
		log = slog.Default()
	}
	opts := []slackgo.Option{}
	if creds.AppToken != "" {
		opts = append(opts, slackgo.OptionAppLevelToken(creds.AppToken))
	}
	api := slackgo.New(creds.Token, opts...)
	limiter := NewLimiter(cfg.Limiter, log)
	return &Client{
		api:     api,
		creds:   creds,
		cfg:     cfg,
		limiter: limiter,
		pager:   NewPager(limiter, cfg.MaxPages, log),
		log:     log,
	}, nil
}

// WithAPI returns a copy of the Client backed by the given SDK client.
// Useful for testing with a mock server via slack.OptionAPIURL.
func (c *Client) WithAPI(api *slackgo.Client) *Client {
	return &Client{
		api:     api,
		creds:   c.creds,
		cfg:     c.cfg,
		limiter: c.limiter,
		pager:   c.pager,
		log:     c.log,
	}
}

// API exposes the underlying SDK client for the socket transport, which
// needs to negotiate its own connection.
func (c *Client) API() *slackgo.Client { return c.api }

// Credentials returns the credential set the client was built with.
func (c *Client) Credentials() *Credentials { return c.creds }

// Auth probes auth.test and returns the authenticated identity.
func (c *Client) Auth(ctx context.Context) (Identity, error) {
	var id Identity
	err := c.limiter.Do(ctx, Tier4, func(ctx context.Context) error {
		resp, err := c.api.AuthTestContext(ctx)
		if err != nil {
			return err
		}
		id = Identity{
			UserID: resp.UserID,
			BotID:  resp.BotID,
			Name:   resp.User,
			Team:   resp.Team,
			TeamID: resp.TeamID,
		}
		return nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("auth probe: %w", err)
	}
	c.log.Info("authenticated", "user", id.Name, "user_id", id.UserID, "team", id.Team, "flavor", string(c.creds.Flavor()))
	return id, nil
}

// ListChannels drains conversations.list. Private channels are included
// only when requested. An explicit resume cursor may be supplied; ""
// fetches from the start.
func (c *Client) ListChannels(ctx context.Context, includePrivate bool, cursor string) ([]Channel, PageResult, error) {
	types := []string{"public_channel"}
	if includePrivate {
		types = append(types, "private_channel")
	}
	var out []Channel
	res, err := c.pager.Drain(ctx, Tier2, cursor, func(ctx context.Context, cur string) (string, error) {
		chans, next, err := c.api.GetConversationsContext(ctx, &slackgo.GetConversationsParameters{
			Types:  types,
			Limit:  c.cfg.ChannelPageSize,
			Cursor: cur,
		})
		if err != nil {
			return "", err
		}
		for _, ch := range chans {
			out = append(out, fromSlackChannel(ch))
		}
		return next, nil
	})
	if err != nil {
		return out, res, fmt.Errorf("list channels: %w", err)
	}
	return out, res, nil
}

// ChannelByID fetches a single channel via conversations.info.
func (c *Client) ChannelByID(ctx context.Context, id string) (Channel, error) {
	var ch Channel
	err := c.limiter.Do(ctx, Tier3, func(ctx context.Context) error {
		info, err := c.api.GetConversationInfoContext(ctx, &slackgo.GetConversationInfoInput{
			ChannelID:         id,
			IncludeNumMembers: true,
		})
		if err != nil {
			return err
		}
		ch = fromSlackChannel(*info)
		return nil
	})
	if err != nil {
		return Channel{}, fmt.Errorf("channel info %s: %w", id, err)
	}
	return ch, nil
}

// ListUsers drains users.list. The SDK owns the users cursor, so this
// listing always starts from the beginning; the page cap still applies.
func (c *Client) ListUsers(ctx context.Context) ([]User, PageResult, error) {
	var (
		out  []User
		res  PageResult
		page = c.api.GetUsersPaginated(slackgo.GetUsersOptionLimit(c.cfg.UserPageSize))
	)
	for {
		if res.Pages >= c.cfg.MaxPages {
			res.Partial = true
			c.log.Warn("user listing hit page cap", "pages", res.Pages)
			return out, res, nil
		}
		done := false
		err := c.limiter.Do(ctx, Tier4, func(ctx context.Context) error {
			next, err := page.Next(ctx)
			if err != nil {
				if next.Done(err) {
					done = true
					return nil
				}
				return next.Failure(err)
			}
			page = next
			return nil
		})
		if err != nil {
			return out, res, fmt.Errorf("list users: %w", err)
		}
		if done {
			return out, res, nil
		}
		res.Pages++
		for _, u := range page.Users {
			out = append(out, fromSlackUser(u))
		}
	}
}

// History drains conversations.history for a channel, oldest bound
// inclusive (Slack timestamp string, "" for no bound). Messages come
// back in the API's newest-first order; callers sort as needed.
func (c *Client) History(ctx context.Context, channelID, oldest, cursor string) ([]Message, PageResult, error) {
	var out []Message
	res, err := c.pager.Drain(ctx, Tier3, cursor, func(ctx context.Context, cur string) (string, error) {
		resp, err := c.api.GetConversationHistoryContext(ctx, &slackgo.GetConversationHistoryParameters{
			ChannelID: channelID,
			Oldest:    oldest,
			Limit:     c.cfg.MessagePageSize,
			Cursor:    cur,
			Inclusive: true,
		})
		if err != nil {
			return "", err
		}
		for _, m := range resp.Messages {
			out = append(out, fromSlackMessage(channelID, m))
		}
		return resp.ResponseMetaData.NextCursor, nil
	})
	if err != nil {
		return out, res, fmt.Errorf("history %s: %w", channelID, err)
	}
	return out, res, nil
}

// Replies drains conversations.replies for a thread. The root message is
// the first element of the result.
func (c *Client) Replies(ctx context.Context, channelID, rootTS string) ([]Message, PageResult, error) {
	var out []Message
	res, err := c.pager.Drain(ctx, Tier3, "", func(ctx context.Context, cur string) (string, error) {
		msgs, _, next, err := c.api.GetConversationRepliesContext(ctx, &slackgo.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: rootTS,
			Limit:     c.cfg.MessagePageSize,
			Cursor:    cur,
		})
		if err != nil {
			return "", err
		}
		for _, m := range msgs {
			out = append(out, fromSlackMessage(channelID, m))
		}
		return next, nil
	})
	if err != nil {
		return out, res, fmt.Errorf("replies %s/%s: %w", channelID, rootTS, err)
	}
	return out, res, nil
}

// PostMessage posts text to a channel, threaded when threadTS is set.
// Returns the timestamp of the posted message.
func (c *Client) PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error) {
	opts := []slackgo.MsgOption{slackgo.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slackgo.MsgOptionTS(threadTS))
	}
	var ts string
	err := c.limiter.Do(ctx, Tier1, func(ctx context.Context) error {
		_, posted, err := c.api.PostMessageContext(ctx, channelID, opts...)
		ts = posted
		return err
	})
	if err != nil {
		return "", fmt.Errorf("post message to %s: %w", channelID, err)
	}
	return ts, nil
}

// UpdateMessage replaces the text of a previously posted message.
func (c *Client) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	err := c.limiter.Do(ctx, Tier1, func(ctx context.Context) error {
		_, _, _, err := c.api.UpdateMessageContext(ctx, channelID, ts, slackgo.MsgOptionText(text, false))
		return err
	})
	if err != nil {
		return fmt.Errorf("update message %s/%s: %w", channelID, ts, err)
	}
	return nil
}

// AddReaction adds an emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, channelID, ts, name string) error {
	err := c.limiter.Do(ctx, Tier3, func(ctx context.Context) error {
		return c.api.AddReactionContext(ctx, name, slackgo.NewRefToMessage(channelID, ts))
	})
	if err != nil {
		return fmt.Errorf("react %s to %s/%s: %w", name, channelID, ts, err)
	}
	return nil
}

// SearchHit is a single search result.
type SearchHit struct {
	Channel   string
	Timestamp string
	User      string
	Username  string
	Text      string
	Permalink string
}

// Search runs search.messages. Only available with a user-flavored
// token; bot tokens get ErrSearchUnavailable.
func (c *Client) Search(ctx context.Context, query string, count int) ([]SearchHit, error) {
	if !c.creds.CanSearch() {
		return nil, ErrSearchUnavailable
	}
	params := slackgo.NewSearchParameters()
	if count > 0 {
		params.Count = count
	}
	var hits []SearchHit
	err := c.limiter.Do(ctx, Tier2, func(ctx context.Context) error {
		resp, err := c.api.SearchMessagesContext(ctx, query, params)
		if err != nil {
			return err
		}
		for _, m := range resp.Matches {
			hits = append(hits, SearchHit{
				Channel:   m.Channel.ID,
				Timestamp: m.Timestamp,
				User:      m.User,
				Username:  m.Username,
				Text:      m.Text,
				Permalink: m.Permalink,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return hits, nil
}

// PublishHome publishes the app home view for a user.
func (c *Client) PublishHome(ctx context.Context, userID string, view slackgo.HomeTabViewRequest) error {
	err := c.limiter.Do(ctx, Tier1, func(ctx context.Context) error {
		_, err := c.api.PublishViewContext(ctx, slackgo.PublishViewContextRequest{
			UserID: userID,
			View:   view,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("publish home for %s: %w", userID, err)
	}
	return nil
}

func fromSlackChannel(ch slackgo.Channel) Channel {
	return Channel{
		ID:       ch.ID,
		Name:     ch.Name,
		Private:  ch.IsPrivate,
		Archived: ch.IsArchived,
		Member:   ch.IsMember,
		Members:  ch.NumMembers,
		Topic:    ch.Topic.Value,
	}
}

func fromSlackUser(u slackgo.User) User {
	return User{
		ID:          u.ID,
		Name:        u.RealName,
		DisplayName: u.Profile.DisplayName,
		Email:       u.Profile.Email,
		Title:       u.Profile.Title,
		Bot:         u.IsBot,
		Deleted:     u.Deleted,
	}
}

func fromSlackMessage(channelID string, m slackgo.Message) Message {
	return Message{
		Channel:    channelID,
		User:       m.User,
		Timestamp:  m.Timestamp,
		Text:       m.Text,
		Subtype:    ParseSubtype(m.SubType),
		ThreadRoot: m.ThreadTimestamp,
		ReplyUsers: m.ReplyUsers,
		BotID:      m.BotID,
	}
}
