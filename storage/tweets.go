package storage

import (
	"fmt"
	"strings"
)

const defaultTweetLimit = 20

// tweetColumns is the select list shared by both SQL back ends.
const tweetColumns = "id, author, text, media_urls, in_reply_to, quote_of, retweet_of, created_at"

// buildTweetQuery renders f as a SELECT over the tweets table. placeholder
// returns the bind marker for the n-th argument (1-based) and like is the
// case-insensitive match operator of the dialect.
func buildTweetQuery(f TweetFilter, placeholder func(n int) string, like string) (string, []any) {
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if len(f.Authors) > 0 {
		marks := make([]string, len(f.Authors))
		for i, a := range f.Authors {
			marks[i] = bind(a)
		}
		where = append(where, fmt.Sprintf("author IN (%s)", strings.Join(marks, ", ")))
	}
	if f.Mention != "" {
		where = append(where, fmt.Sprintf("text %s %s", like, bind("%@"+f.Mention+"%")))
		where = append(where, fmt.Sprintf("author <> %s", bind(f.Mention)))
	}
	if f.Query != "" {
		where = append(where, fmt.Sprintf("text %s %s", like, bind("%"+f.Query+"%")))
	}
	if f.InReplyTo != "" {
		where = append(where, fmt.Sprintf("in_reply_to = %s", bind(f.InReplyTo)))
	}

	var b strings.Builder
	b.WriteString("SELECT " + tweetColumns + " FROM tweets")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	b.WriteString(" LIMIT " + bind(limitOrDefault(f.Limit, defaultTweetLimit)))

	return b.String(), args
}

// matchTweet applies f to t in memory with the same semantics as
// buildTweetQuery.
func matchTweet(f TweetFilter, t Tweet) bool {
	if len(f.Authors) > 0 {
		found := false
		for _, a := range f.Authors {
			if a == t.Author {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	text := strings.ToLower(t.Text)
	if f.Mention != "" {
		if t.Author == f.Mention || !strings.Contains(text, "@"+strings.ToLower(f.Mention)) {
			return false
		}
	}
	if f.Query != "" && !strings.Contains(text, strings.ToLower(f.Query)) {
		return false
	}
	if f.InReplyTo != "" && t.InReplyTo != f.InReplyTo {
		return false
	}
	return true
}
