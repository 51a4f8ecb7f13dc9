package twitter

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"cypher/storage"
)

// DefaultCooldown is the minimum gap between two own tweets of one kind.
const DefaultCooldown = 60 * time.Minute

// TweetKind groups own tweets that share a cooldown.
type TweetKind string

const (
	KindMain    TweetKind = "main"
	KindQuote   TweetKind = "quote"
	KindRetweet TweetKind = "retweet"
	KindMedia   TweetKind = "media"
)

var cooldownKinds = []struct {
	kind  TweetKind
	label string
	noun  string
}{
	{KindMain, "Main Tweet", "MAIN TWEET"},
	{KindQuote, "Quote Tweet", "QUOTE TWEET"},
	{KindRetweet, "Retweet", "RETWEET"},
	{KindMedia, "Media Tweet", "MEDIA TWEET"},
}

// KindOf reports which cooldown t counts against. Replies have none.
func KindOf(t storage.Tweet) (TweetKind, bool) {
	switch {
	case t.RetweetOf != "":
		return KindRetweet, true
	case t.QuoteOf != "":
		return KindQuote, true
	case t.InReplyTo != "":
		return "", false
	case len(t.MediaURLs) > 0:
		return KindMedia, true
	default:
		return KindMain, true
	}
}

// cooldownLeft returns the whole minutes, rounded up, until kind may be
// sent again. Zero means the cooldown is inactive.
func (f *Feature) cooldownLeft(ctx context.Context, kind TweetKind) (int, error) {
	if f.cooldown <= 0 {
		return 0, nil
	}
	last, ok, err := f.client.LastTweet(ctx, kind)
	if err != nil || !ok {
		return 0, err
	}
	left := f.cooldown - f.now().Sub(last)
	if left <= 0 {
		return 0, nil
	}
	return int(math.Ceil(left.Minutes())), nil
}

func (f *Feature) cooldownStatus(ctx context.Context) (string, error) {
	lines := make([]string, 0, len(cooldownKinds))
	for _, k := range cooldownKinds {
		left, err := f.cooldownLeft(ctx, k.kind)
		if err != nil {
			return "", err
		}
		if left > 0 {
			lines = append(lines, fmt.Sprintf("%s: CANNOT SEND A %s. COOLDOWN IS ACTIVE (%d %s remaining)", k.label, k.noun, left, plural(left, "minute")))
		} else {
			lines = append(lines, fmt.Sprintf("%s: CAN SEND A %s. COOLDOWN IS INACTIVE", k.label, k.noun))
		}
	}
	return strings.Join(lines, "\n"), nil
}
