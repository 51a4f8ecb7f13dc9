package twitter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cypher/storage"

	"github.com/google/uuid"
)

// FollowStatus is the outcome of a follow request.
type FollowStatus string

const (
	FollowSuccess          FollowStatus = "success"
	FollowAlreadyFollowing FollowStatus = "already_following"
	FollowUserNotFound     FollowStatus = "user_not_found"
	FollowError            FollowStatus = "error"
)

// FollowResult describes a follow request.
type FollowResult struct {
	Status  FollowStatus
	Message string
}

// ActionResult describes a tweet-producing action.
type ActionResult struct {
	Success bool
	TweetID string
	Message string
}

// Mention is an unhandled mention and the tweet it replies to, if any.
type Mention struct {
	Tweet     storage.Tweet
	Following bool
	Parent    *storage.Tweet
}

// Client is the Twitter environment the sub-commands act on.
type Client interface {
	Username() string
	GetTweets(ctx context.Context, username string, limit int) ([]storage.Tweet, error)
	GetMentions(ctx context.Context, limit int) ([]Mention, error)
	GetHomepage(ctx context.Context, limit int) ([]storage.Tweet, error)
	Search(ctx context.Context, query string, limit int) ([]storage.Tweet, error)
	GetThread(ctx context.Context, tweetID string) ([]storage.Tweet, error)
	Post(ctx context.Context, text string, media []string) (ActionResult, error)
	Reply(ctx context.Context, tweetID, text string, media []string) (ActionResult, error)
	Quote(ctx context.Context, tweetID, text string, media []string) (ActionResult, error)
	Retweet(ctx context.Context, tweetID string) (ActionResult, error)
	Follow(ctx context.Context, username string) (FollowResult, error)
	Like(ctx context.Context, tweetID string) (ActionResult, error)
	// LastTweet returns when the agent last sent a tweet of kind.
	LastTweet(ctx context.Context, kind TweetKind) (time.Time, bool, error)
}

// threadDepth bounds how far GetThread walks up a reply chain.
const threadDepth = 50

// LocalClient is a self-contained Twitter environment: every tweet lives in
// a storage.TweetStore and the agent acts as Username.
type LocalClient struct {
	store    storage.TweetStore
	username string
	now      func() time.Time
	newID    func() string
}

// NewLocalClient returns a client acting as username over store.
func NewLocalClient(store storage.TweetStore, username string) *LocalClient {
	return &LocalClient{
		store:    store,
		username: strings.TrimPrefix(username, "@"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
}

func (c *LocalClient) Username() string { return c.username }

// GetTweets returns username's recent tweets that the agent has not yet
// interacted with.
func (c *LocalClient) GetTweets(ctx context.Context, username string, limit int) ([]storage.Tweet, error) {
	tweets, err := c.store.ListTweets(ctx, storage.TweetFilter{
		Authors: []string{strings.TrimPrefix(username, "@")},
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return c.unhandled(ctx, tweets, false)
}

// GetMentions returns mentions of the agent it has not replied to, quoted
// or retweeted.
func (c *LocalClient) GetMentions(ctx context.Context, limit int) ([]Mention, error) {
	tweets, err := c.store.ListTweets(ctx, storage.TweetFilter{Mention: c.username, Limit: limit})
	if err != nil {
		return nil, err
	}
	tweets, err = c.unhandled(ctx, tweets, true)
	if err != nil {
		return nil, err
	}

	follows, err := c.followSet(ctx)
	if err != nil {
		return nil, err
	}

	mentions := make([]Mention, 0, len(tweets))
	for _, t := range tweets {
		m := Mention{Tweet: t, Following: follows[t.Author]}
		if t.InReplyTo != "" {
			parent, err := c.store.GetTweet(ctx, t.InReplyTo)
			if err == nil {
				m.Parent = &parent
			} else if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
		}
		mentions = append(mentions, m)
	}
	return mentions, nil
}

// GetHomepage returns unhandled tweets from followed accounts.
func (c *LocalClient) GetHomepage(ctx context.Context, limit int) ([]storage.Tweet, error) {
	follows, err := c.store.ListFollows(ctx)
	if err != nil {
		return nil, err
	}
	if len(follows) == 0 {
		return nil, nil
	}
	tweets, err := c.store.ListTweets(ctx, storage.TweetFilter{Authors: follows, Limit: limit})
	if err != nil {
		return nil, err
	}
	return c.unhandled(ctx, tweets, true)
}

func (c *LocalClient) Search(ctx context.Context, query string, limit int) ([]storage.Tweet, error) {
	return c.store.ListTweets(ctx, storage.TweetFilter{Query: query, Limit: limit})
}

// GetThread returns the ancestors of tweetID, the tweet itself and its
// direct replies, oldest first.
func (c *LocalClient) GetThread(ctx context.Context, tweetID string) ([]storage.Tweet, error) {
	root, err := c.store.GetTweet(ctx, tweetID)
	if err != nil {
		return nil, err
	}

	var ancestors []storage.Tweet
	for parentID := root.InReplyTo; parentID != "" && len(ancestors) < threadDepth; {
		parent, err := c.store.GetTweet(ctx, parentID)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		ancestors = append([]storage.Tweet{parent}, ancestors...)
		parentID = parent.InReplyTo
	}

	replies, err := c.store.ListTweets(ctx, storage.TweetFilter{InReplyTo: tweetID, Limit: threadDepth})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(replies)-1; i < j; i, j = i+1, j-1 {
		replies[i], replies[j] = replies[j], replies[i]
	}

	thread := append(ancestors, root)
	return append(thread, replies...), nil
}

func (c *LocalClient) Post(ctx context.Context, text string, media []string) (ActionResult, error) {
	t, err := c.insert(ctx, storage.Tweet{Text: text, MediaURLs: media})
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Success: true, TweetID: t.ID, Message: "Successfully sent tweet"}, nil
}

func (c *LocalClient) Reply(ctx context.Context, tweetID, text string, media []string) (ActionResult, error) {
	if _, err := c.store.GetTweet(ctx, tweetID); err != nil {
		return c.missing(tweetID, err)
	}
	t, err := c.insert(ctx, storage.Tweet{Text: text, MediaURLs: media, InReplyTo: tweetID})
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Success: true, TweetID: t.ID, Message: "Successfully replied to tweet"}, nil
}

func (c *LocalClient) Quote(ctx context.Context, tweetID, text string, media []string) (ActionResult, error) {
	if _, err := c.store.GetTweet(ctx, tweetID); err != nil {
		return c.missing(tweetID, err)
	}
	t, err := c.insert(ctx, storage.Tweet{Text: text, MediaURLs: media, QuoteOf: tweetID})
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Success: true, TweetID: t.ID, Message: "Successfully quoted tweet"}, nil
}

func (c *LocalClient) Retweet(ctx context.Context, tweetID string) (ActionResult, error) {
	orig, err := c.store.GetTweet(ctx, tweetID)
	if err != nil {
		return c.missing(tweetID, err)
	}

	handled, err := c.handledSet(ctx)
	if err != nil {
		return ActionResult{}, err
	}
	if handled.retweeted[tweetID] {
		return ActionResult{Success: false, Message: "Tweet already retweeted"}, nil
	}

	t, err := c.insert(ctx, storage.Tweet{Text: orig.Text, RetweetOf: tweetID})
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Success: true, TweetID: t.ID, Message: "Successfully retweeted"}, nil
}

func (c *LocalClient) Like(ctx context.Context, tweetID string) (ActionResult, error) {
	if _, err := c.store.GetTweet(ctx, tweetID); err != nil {
		return c.missing(tweetID, err)
	}
	added, err := c.store.InsertLike(ctx, tweetID)
	if err != nil {
		return ActionResult{}, err
	}
	if !added {
		return ActionResult{Success: false, TweetID: tweetID, Message: "Tweet already liked"}, nil
	}
	return ActionResult{Success: true, TweetID: tweetID, Message: "Successfully liked tweet"}, nil
}

func (c *LocalClient) LastTweet(ctx context.Context, kind TweetKind) (time.Time, bool, error) {
	own, err := c.store.ListTweets(ctx, storage.TweetFilter{Authors: []string{c.username}, Limit: handledLimit})
	if err != nil {
		return time.Time{}, false, err
	}
	var last time.Time
	for _, t := range own {
		if k, ok := KindOf(t); ok && k == kind && t.CreatedAt.After(last) {
			last = t.CreatedAt
		}
	}
	return last, !last.IsZero(), nil
}

func (c *LocalClient) Follow(ctx context.Context, username string) (FollowResult, error) {
	username = strings.TrimPrefix(username, "@")

	known, err := c.store.ListTweets(ctx, storage.TweetFilter{Authors: []string{username}, Limit: 1})
	if err != nil {
		return FollowResult{}, err
	}
	if len(known) == 0 || username == c.username {
		return FollowResult{
			Status:  FollowUserNotFound,
			Message: fmt.Sprintf("Could not find user @%s on Twitter", username),
		}, nil
	}

	added, err := c.store.InsertFollow(ctx, username)
	if err != nil {
		return FollowResult{
			Status:  FollowError,
			Message: fmt.Sprintf("Failed to update follow status for @%s in database", username),
		}, nil
	}
	if !added {
		return FollowResult{
			Status:  FollowAlreadyFollowing,
			Message: fmt.Sprintf("Bot is already following @%s", username),
		}, nil
	}
	return FollowResult{
		Status:  FollowSuccess,
		Message: fmt.Sprintf("Successfully followed user @%s", username),
	}, nil
}

func (c *LocalClient) insert(ctx context.Context, t storage.Tweet) (storage.Tweet, error) {
	t.ID = c.newID()
	t.Author = c.username
	t.CreatedAt = c.now()
	if err := c.store.InsertTweet(ctx, t); err != nil {
		return storage.Tweet{}, err
	}
	return t, nil
}

func (c *LocalClient) missing(tweetID string, err error) (ActionResult, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return ActionResult{Success: false, Message: fmt.Sprintf("Tweet %s not found", tweetID)}, nil
	}
	return ActionResult{}, err
}

type interactions struct {
	any       map[string]bool
	retweeted map[string]bool
}

// handledLimit bounds the own-tweet scan used to find interactions.
const handledLimit = 1000

func (c *LocalClient) handledSet(ctx context.Context) (interactions, error) {
	own, err := c.store.ListTweets(ctx, storage.TweetFilter{Authors: []string{c.username}, Limit: handledLimit})
	if err != nil {
		return interactions{}, err
	}
	set := interactions{any: make(map[string]bool), retweeted: make(map[string]bool)}
	for _, t := range own {
		for _, id := range []string{t.InReplyTo, t.QuoteOf, t.RetweetOf} {
			if id != "" {
				set.any[id] = true
			}
		}
		if t.RetweetOf != "" {
			set.retweeted[t.RetweetOf] = true
		}
	}
	return set, nil
}

// unhandled drops tweets the agent already interacted with, and its own
// tweets when dropOwn is set.
func (c *LocalClient) unhandled(ctx context.Context, tweets []storage.Tweet, dropOwn bool) ([]storage.Tweet, error) {
	handled, err := c.handledSet(ctx)
	if err != nil {
		return nil, err
	}
	out := tweets[:0:0]
	for _, t := range tweets {
		if (dropOwn && t.Author == c.username) || handled.any[t.ID] {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *LocalClient) followSet(ctx context.Context) (map[string]bool, error) {
	follows, err := c.store.ListFollows(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(follows))
	for _, f := range follows {
		set[f] = true
	}
	return set, nil
}
