package twitter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cypher/storage"
	"cypher/terminal"
)

const (
	defaultLimit = "20"
	threadHint   = "\nTo get the full thread of a tweet to reply, use twitter get-thread <tweetid>"
	mediaParam   = "mediaUrls"
)

func limitParam(desc string) terminal.Parameter {
	return terminal.Parameter{Name: "limit", Description: desc, Type: terminal.TypeNumber, Default: defaultLimit}
}

func mediaParameter() terminal.Parameter {
	return terminal.Parameter{
		Name:        mediaParam,
		Description: "Comma-separated list of media URLs (images, GIFs, or videos)",
		Type:        terminal.TypeString,
	}
}

func (f *Feature) subCommands() []terminal.Command {
	return []terminal.Command{
		{
			Name:        "get-tweets",
			Description: "Get recent tweets from a specified user. Do not include the @ symbol.",
			Parameters: []terminal.Parameter{
				{Name: "username", Description: "Twitter username (without @ symbol)", Required: true, Type: terminal.TypeString},
				limitParam("Maximum number of tweets to fetch"),
			},
			Handler: f.getTweets,
		},
		{
			Name:        "re-tweet",
			Description: "Retweet a tweet. Only input the tweet ID number, raw digits. An agent will handle the rest.",
			Parameters: []terminal.Parameter{
				{Name: "tweetId", Description: "ID of the tweet to retweet", Required: true, Type: terminal.TypeString},
			},
			Handler: f.retweet,
		},
		{
			Name:        "search-twitter",
			Description: "Search for tweets with a specific query",
			Parameters: []terminal.Parameter{
				{Name: "query", Description: "Search query string", Required: true, Type: terminal.TypeString},
				limitParam("Maximum number of results to return"),
			},
			Handler: f.search,
		},
		{
			Name:        "reply-to-tweet",
			Description: "Replies to a specified tweet with optional media attachments",
			Parameters: []terminal.Parameter{
				{Name: "tweetId", Description: "ID of the tweet to reply to", Required: true, Type: terminal.TypeString},
				{Name: "text", Description: "Text content of your reply", Required: true, Type: terminal.TypeString},
				mediaParameter(),
			},
			Handler: f.reply,
		},
		{
			Name:        "follow",
			Description: "Follow a user. Usage: twitter follow <username>",
			Parameters: []terminal.Parameter{
				{Name: "username", Description: "Username to follow", Required: true, Type: terminal.TypeString},
			},
			Handler: f.follow,
		},
		{
			Name:        "get-mentions",
			Description: "Get recent mentions of your account",
			Parameters:  []terminal.Parameter{limitParam("Maximum number of mentions to fetch")},
			Handler:     f.getMentions,
		},
		{
			Name:        "quote-tweet",
			Description: "Creates a quote tweet with optional media attachments",
			Parameters: []terminal.Parameter{
				{Name: "tweetId", Description: "ID of the tweet to quote", Required: true, Type: terminal.TypeString},
				{Name: "text", Description: "Text content of your quote tweet", Required: true, Type: terminal.TypeString},
				mediaParameter(),
			},
			Handler: f.quote,
		},
		{
			Name:        "get-homepage",
			Description: "Get the homepage of your timeline",
			Parameters:  []terminal.Parameter{limitParam("Maximum number of tweets to fetch")},
			Handler:     f.getHomepage,
		},
		{
			Name:        "post-tweet",
			Description: "Sends a new tweet with optional media attachments",
			Parameters: []terminal.Parameter{
				{Name: "text", Description: "Text content of your tweet", Required: true, Type: terminal.TypeString},
				mediaParameter(),
			},
			Handler: f.postTweet,
		},
		{
			Name:        "get-thread",
			Description: "Get the full conversation thread for a specified tweet ID",
			Parameters: []terminal.Parameter{
				{Name: "tweetId", Description: "ID of the tweet to get the thread for", Required: true, Type: terminal.TypeString},
			},
			Handler: f.getThread,
		},
		{
			Name:        "like-tweet",
			Description: "Like a tweet. Only input the tweet ID number, raw digits.",
			Parameters: []terminal.Parameter{
				{Name: "tweetId", Description: "ID of the tweet to like", Required: true, Type: terminal.TypeString},
			},
			Handler: f.like,
		},
		{
			Name:        "cooldowns",
			Description: "Show which kinds of tweet are on cooldown",
			Handler:     f.cooldowns,
		},
	}
}

func output(s string) (terminal.Result, error) {
	return terminal.Result{Output: s}, nil
}

func formatTweet(t storage.Tweet) string {
	return fmt.Sprintf("- [%s] @%s (%s): %s", t.ID, t.Author, terminal.FormatTimestamp(t.CreatedAt), t.Text)
}

func formatTweets(tweets []storage.Tweet) string {
	lines := make([]string, len(tweets))
	for i, t := range tweets {
		lines[i] = formatTweet(t)
	}
	return strings.Join(lines, "\n")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// parseMedia splits a comma-separated URL list. It returns nil when no URL
// is given.
func parseMedia(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func mediaSummary(urls []string) string {
	if len(urls) == 0 {
		return "None"
	}
	return strings.Join(urls, ", ")
}

func statusEmoji(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

func successWord(ok bool) string {
	if ok {
		return "Success"
	}
	return "Failed"
}

func (f *Feature) getTweets(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	username := args.String("username")
	tweets, err := f.client.GetTweets(ctx, username, args.Int("limit", 20))
	if err != nil {
		return output(fmt.Sprintf("❌ Error fetching tweets: %v", err))
	}
	if len(tweets) == 0 {
		return output(fmt.Sprintf("📭 No unhandled tweets found for @%s.", strings.TrimPrefix(username, "@")))
	}
	return output("📝 " + formatTweets(tweets) + threadHint)
}

func (f *Feature) getMentions(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	mentions, err := f.client.GetMentions(ctx, args.Int("limit", 20))
	if err != nil {
		return output(fmt.Sprintf("❌ Error fetching mentions: %v", err))
	}
	if len(mentions) == 0 {
		return output("📭 No unhandled mentions found.")
	}

	lines := make([]string, 0, len(mentions))
	for _, m := range mentions {
		following := "Not following"
		if m.Following {
			following = "Following"
		}
		line := fmt.Sprintf("- [%s] @%s (%s) (%s): %s",
			m.Tweet.ID, m.Tweet.Author, following, terminal.FormatTimestamp(m.Tweet.CreatedAt), m.Tweet.Text)
		if m.Parent != nil {
			author := "@" + m.Parent.Author
			if m.Parent.Author == f.client.Username() {
				author += " (YOU)"
			}
			line += fmt.Sprintf("\n  ↳ In reply to %s [%s]: %q", author, m.Parent.ID, m.Parent.Text)
		}
		lines = append(lines, line)
	}

	return output(fmt.Sprintf("📫 Found %d unhandled %s:\n%s%s",
		len(mentions), plural(len(mentions), "mention"), strings.Join(lines, "\n"), threadHint))
}

func (f *Feature) getHomepage(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	tweets, err := f.client.GetHomepage(ctx, args.Int("limit", 20))
	if err != nil {
		return output(fmt.Sprintf("❌ Error fetching homepage: %v", err))
	}
	if len(tweets) == 0 {
		return output("📭 No unhandled tweets found in your homepage timeline.")
	}
	return output(fmt.Sprintf("📱 Found %d unhandled %s in timeline:\n%s%s",
		len(tweets), plural(len(tweets), "tweet"), formatTweets(tweets), threadHint))
}

func (f *Feature) search(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	query := args.String("query")
	tweets, err := f.client.Search(ctx, query, args.Int("limit", 20))
	if err != nil {
		return output(fmt.Sprintf("❌ Error searching tweets: %v", err))
	}
	if len(tweets) == 0 {
		return output(fmt.Sprintf("🔍 No tweets found for %q.", query))
	}
	return output("🔍 " + formatTweets(tweets) + threadHint)
}

func (f *Feature) getThread(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	tweetID := args.String("tweetId")
	thread, err := f.client.GetThread(ctx, tweetID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && len(thread) == 0) {
		return output("📭 No content found for this tweet thread.")
	}
	if err != nil {
		return output(fmt.Sprintf("❌ Error fetching tweet thread: %v", err))
	}

	lines := make([]string, 0, len(thread)+1)
	lines = append(lines, fmt.Sprintf("### Thread for tweet [%s]", tweetID))
	for _, t := range thread {
		line := formatTweet(t)
		if t.ID == tweetID {
			line += "  <- this tweet"
		}
		lines = append(lines, line)
	}
	return output(strings.Join(lines, "\n"))
}

func (f *Feature) postTweet(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	text := args.String("text")
	media := parseMedia(args.String(mediaParam))

	kind, noun := KindMain, "Main tweet"
	if len(media) > 0 {
		kind, noun = KindMedia, "Media tweet"
	}
	left, err := f.cooldownLeft(ctx, kind)
	if err != nil {
		return output(fmt.Sprintf("❌ Action: Send Tweet\nStatus: Error\nDetails: %v", err))
	}
	if left > 0 {
		return output(fmt.Sprintf("❌ Action: Send Tweet\nStatus: Failed\nReason: %s cooldown is active. Please wait %d %s before tweeting again.",
			noun, left, plural(left, "minute")))
	}

	res, err := f.client.Post(ctx, text, media)
	if err != nil {
		return output(fmt.Sprintf("❌ Action: Send Tweet\nStatus: Error\nDetails: %v", err))
	}
	if !res.Success || res.TweetID == "" {
		return output("❌ Action: Send Tweet\nStatus: Failed\nDetails: Unable to send tweet")
	}
	return output(fmt.Sprintf("✅ Action: Send Tweet\nTweet ID: %s\nStatus: Success\nText: %s\nMedia: %s\nDetails: %s",
		res.TweetID, text, mediaSummary(media), res.Message))
}

func (f *Feature) reply(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	tweetID := args.String("tweetId")
	text := args.String("text")
	media := parseMedia(args.String(mediaParam))

	res, err := f.client.Reply(ctx, tweetID, text, media)
	if err != nil {
		return output(fmt.Sprintf("❌ Action: Reply Tweet\nParent Tweet ID: %s\nStatus: Error\nDetails: %v", tweetID, err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Action: Reply Tweet\n", statusEmoji(res.Success))
	fmt.Fprintf(&b, "Parent Tweet ID: %s\n", tweetID)
	if res.TweetID != "" {
		fmt.Fprintf(&b, "Reply Tweet ID: %s\n", res.TweetID)
	}
	fmt.Fprintf(&b, "Status: %s\nText: %s\nMedia: %s\nDetails: %s", successWord(res.Success), text, mediaSummary(media), res.Message)
	return output(b.String())
}

func (f *Feature) quote(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	tweetID := args.String("tweetId")
	text := args.String("text")
	media := parseMedia(args.String(mediaParam))

	left, err := f.cooldownLeft(ctx, KindQuote)
	if err != nil {
		return output(fmt.Sprintf("❌ Action: Quote Tweet\nQuoted Tweet ID: %s\nStatus: Error\nDetails: %v", tweetID, err))
	}
	if left > 0 {
		return output(fmt.Sprintf("❌ Action: Quote Tweet\nQuoted Tweet ID: %s\nStatus: Failed\nReason: Quote tweet cooldown is active. Please wait %d %s before quoting again.",
			tweetID, left, plural(left, "minute")))
	}

	res, err := f.client.Quote(ctx, tweetID, text, media)
	if err != nil {
		return output(fmt.Sprintf("❌ Action: Quote Tweet\nQuoted Tweet ID: %s\nStatus: Error\nDetails: %v", tweetID, err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Action: Quote Tweet\n", statusEmoji(res.Success))
	fmt.Fprintf(&b, "Quoted Tweet ID: %s\n", tweetID)
	if res.TweetID != "" {
		fmt.Fprintf(&b, "New Tweet ID: %s\n", res.TweetID)
	}
	fmt.Fprintf(&b, "Status: %s\nText: %s\nMedia: %s\nDetails: %s", successWord(res.Success), text, mediaSummary(media), res.Message)
	return output(b.String())
}

func (f *Feature) retweet(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	tweetID := args.String("tweetId")
	left, err := f.cooldownLeft(ctx, KindRetweet)
	if err != nil {
		return output(fmt.Sprintf("❌ Action: Retweet\nTweet ID: %s\nStatus: Error\nDetails: %v", tweetID, err))
	}
	if left > 0 {
		return output(fmt.Sprintf("❌ Action: Retweet\nTweet ID: %s\nStatus: Failed\nReason: Retweet cooldown is active. Please wait %d %s before retweeting again.",
			tweetID, left, plural(left, "minute")))
	}

	res, err := f.client.Retweet(ctx, tweetID)
	if err != nil {
		return output(fmt.Sprintf("❌ Action: Retweet\nTweet ID: %s\nStatus: Error\nDetails: %v", tweetID, err))
	}
	return output(fmt.Sprintf("%s Action: Retweet\nTweet ID: %s\nStatus: %s\nDetails: %s",
		statusEmoji(res.Success), tweetID, successWord(res.Success), res.Message))
}

func (f *Feature) follow(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	username := strings.TrimPrefix(args.String("username"), "@")
	res, err := f.client.Follow(ctx, username)
	if err != nil {
		return output(fmt.Sprintf("❌ Action: Follow User\nTarget: @%s\nStatus: Error\nDetails: %v", username, err))
	}

	emoji := "❌"
	switch res.Status {
	case FollowSuccess:
		emoji = "✅"
	case FollowAlreadyFollowing:
		emoji = "ℹ️"
	}
	return output(fmt.Sprintf("%s Action: Follow User\nTarget: @%s\nStatus: %s\nDetails: %s", emoji, username, res.Status, res.Message))
}

func (f *Feature) like(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	tweetID := args.String("tweetId")
	res, err := f.client.Like(ctx, tweetID)
	if err != nil {
		return output(fmt.Sprintf("❌ Action: Like Tweet\nTweet ID: %s\nStatus: Error\nDetails: %v", tweetID, err))
	}
	return output(fmt.Sprintf("%s Action: Like Tweet\nTweet ID: %s\nStatus: %s\nDetails: %s",
		statusEmoji(res.Success), tweetID, successWord(res.Success), res.Message))
}

func (f *Feature) cooldowns(ctx context.Context, _ terminal.Args) (terminal.Result, error) {
	status, err := f.cooldownStatus(ctx)
	if err != nil {
		return output(fmt.Sprintf("❌ Error checking cooldowns: %v", err))
	}
	return output(status)
}
