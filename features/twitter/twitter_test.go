package twitter

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"cypher/storage"
	"cypher/terminal"
)

var base = time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC)

type harness struct {
	store  *storage.MemoryStore
	client *LocalClient
	disp   *terminal.Dispatcher
	now    time.Time
}

func newHarness(t *testing.T, seed ...storage.Tweet) *harness {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	for _, tw := range seed {
		if err := store.InsertTweet(ctx, tw); err != nil {
			t.Fatalf("seed tweet %s: %v", tw.ID, err)
		}
	}

	h := &harness{store: store, now: base.Add(time.Hour)}
	clock := func() time.Time { return h.now }

	h.client = NewLocalClient(store, "@cypher")
	next := 100
	h.client.newID = func() string {
		next++
		return fmt.Sprintf("t-%d", next)
	}
	h.client.now = clock

	r := terminal.NewRegistry(nil)
	cmds, err := New(h.client, WithClock(clock)).Commands(ctx)
	if err != nil {
		t.Fatalf("Commands: %v", err)
	}
	r.Register(cmds...)
	h.disp = terminal.NewDispatcher(r)
	return h
}

func (h *harness) run(t *testing.T, line string) string {
	t.Helper()
	exec := h.disp.Execute(context.Background(), line)
	if !exec.Success {
		t.Fatalf("%s: unexpected failure: %s", line, exec.Output)
	}
	return exec.Output
}

func TestHelp(t *testing.T) {
	h := newHarness(t)

	for _, line := range []string{"twitter", "twitter help"} {
		out := h.run(t, line)
		if !strings.HasPrefix(out, "Available Twitter sub-commands:\n(Use \"twitter help <command>\" for detailed parameter information)\n\n") {
			t.Errorf("%s: got %q", line, out)
		}
		want := terminal.HelpLine("get-tweets <username> [limit]", "Get recent tweets from a specified user. Do not include the @ symbol.")
		if !strings.Contains(out, want) {
			t.Errorf("%s: missing %q in %q", line, want, out)
		}
	}
}

func TestSubCommandOrder(t *testing.T) {
	h := newHarness(t)
	f := New(h.client)

	var got []string
	for _, cmd := range f.SubCommands() {
		got = append(got, cmd.Name)
	}
	want := []string{
		"get-tweets", "re-tweet", "search-twitter", "reply-to-tweet", "follow",
		"get-mentions", "quote-tweet", "get-homepage", "post-tweet", "get-thread",
		"like-tweet", "cooldowns",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDetailedHelp(t *testing.T) {
	h := newHarness(t)

	out := h.run(t, "twitter help get-tweets")
	for _, want := range []string{
		"Command: twitter get-tweets",
		"Usage:\n  twitter get-tweets <username> [limit]",
		"  username <string>: Twitter username (without @ symbol) (Required)",
		"  limit <number>: Maximum number of tweets to fetch (Optional) [default: 20]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestUnknownSubCommand(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		line string
		want string
	}{
		{"twitter dance", `Unknown twitter sub-command: dance. Try "twitter help".`},
		{"twitter help dance", `Unknown sub-command: dance. Try "twitter help" for available commands.`},
	}
	for _, tt := range tests {
		if got := h.run(t, tt.line); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestMissingParameterFails(t *testing.T) {
	h := newHarness(t)

	exec := h.disp.Execute(context.Background(), "twitter follow")
	if exec.Success {
		t.Fatal("expected failure")
	}
	want := "Error executing command 'twitter': missing required parameter: username"
	if exec.Output != want {
		t.Errorf("got %q, want %q", exec.Output, want)
	}
}

func TestPostTweet(t *testing.T) {
	h := newHarness(t)

	out := h.run(t, `twitter post-tweet "hello world" "https://a.png, ,https://b.gif"`)
	want := "✅ Action: Send Tweet\nTweet ID: t-101\nStatus: Success\nText: hello world\nMedia: https://a.png, https://b.gif\nDetails: Successfully sent tweet"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}

	stored, err := h.store.GetTweet(context.Background(), "t-101")
	if err != nil {
		t.Fatalf("GetTweet: %v", err)
	}
	if stored.Author != "cypher" {
		t.Errorf("got author %q, want cypher", stored.Author)
	}
	if len(stored.MediaURLs) != 2 {
		t.Errorf("got media %v", stored.MediaURLs)
	}
}

func TestMentionsDisappearOnceHandled(t *testing.T) {
	h := newHarness(t,
		storage.Tweet{ID: "1", Author: "cypher", Text: "gm", CreatedAt: base},
		storage.Tweet{ID: "2", Author: "alice", Text: "@cypher gm to you", InReplyTo: "1", CreatedAt: base.Add(time.Minute)},
	)

	out := h.run(t, "twitter get-mentions")
	want := "📫 Found 1 unhandled mention:\n" +
		"- [2] @alice (Not following) (02/01/24 - 3:05 PM UTC): @cypher gm to you\n" +
		"  ↳ In reply to @cypher (YOU) [1]: \"gm\"" + threadHint
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}

	reply := h.run(t, `twitter reply-to-tweet 2 "gm alice"`)
	if !strings.HasPrefix(reply, "✅ Action: Reply Tweet\nParent Tweet ID: 2\nReply Tweet ID: t-101\nStatus: Success") {
		t.Errorf("got %q", reply)
	}

	if got := h.run(t, "twitter get-mentions"); got != "📭 No unhandled mentions found." {
		t.Errorf("got %q", got)
	}
}

func TestReplyToMissingTweet(t *testing.T) {
	h := newHarness(t)

	out := h.run(t, `twitter reply-to-tweet 404 "hello"`)
	if !strings.HasPrefix(out, "❌ Action: Reply Tweet\nParent Tweet ID: 404\nStatus: Failed") {
		t.Errorf("got %q", out)
	}
	if !strings.HasSuffix(out, "Details: Tweet 404 not found") {
		t.Errorf("got %q", out)
	}
}

func TestFollowAndHomepage(t *testing.T) {
	h := newHarness(t,
		storage.Tweet{ID: "1", Author: "alice", Text: "first", CreatedAt: base},
		storage.Tweet{ID: "2", Author: "alice", Text: "second", CreatedAt: base.Add(time.Minute)},
		storage.Tweet{ID: "3", Author: "bob", Text: "unrelated", CreatedAt: base.Add(2 * time.Minute)},
	)

	if got := h.run(t, "twitter get-homepage"); got != "📭 No unhandled tweets found in your homepage timeline." {
		t.Errorf("got %q", got)
	}

	tests := []struct {
		line string
		want string
	}{
		{"twitter follow ghost", "❌ Action: Follow User\nTarget: @ghost\nStatus: user_not_found\nDetails: Could not find user @ghost on Twitter"},
		{"twitter follow @alice", "✅ Action: Follow User\nTarget: @alice\nStatus: success\nDetails: Successfully followed user @alice"},
		{"twitter follow alice", "ℹ️ Action: Follow User\nTarget: @alice\nStatus: already_following\nDetails: Bot is already following @alice"},
	}
	for _, tt := range tests {
		if got := h.run(t, tt.line); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.line, got, tt.want)
		}
	}

	want := "📱 Found 2 unhandled tweets in timeline:\n" +
		"- [2] @alice (02/01/24 - 3:05 PM UTC): second\n" +
		"- [1] @alice (02/01/24 - 3:04 PM UTC): first" + threadHint
	if got := h.run(t, "twitter get-homepage"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRetweetOnlyOnce(t *testing.T) {
	h := newHarness(t, storage.Tweet{ID: "7", Author: "alice", Text: "ship it", CreatedAt: base})

	first := h.run(t, "twitter re-tweet 7")
	if first != "✅ Action: Retweet\nTweet ID: 7\nStatus: Success\nDetails: Successfully retweeted" {
		t.Errorf("got %q", first)
	}
	h.now = h.now.Add(2 * DefaultCooldown)
	second := h.run(t, "twitter re-tweet 7")
	if second != "❌ Action: Retweet\nTweet ID: 7\nStatus: Failed\nDetails: Tweet already retweeted" {
		t.Errorf("got %q", second)
	}
}

func TestCooldownGate(t *testing.T) {
	h := newHarness(t,
		storage.Tweet{ID: "7", Author: "alice", Text: "ship it", CreatedAt: base},
		storage.Tweet{ID: "8", Author: "alice", Text: "and this", CreatedAt: base},
	)

	h.run(t, "twitter re-tweet 7")
	h.now = h.now.Add(59*time.Minute + time.Second)

	tests := []struct {
		line string
		want string
	}{
		{"twitter re-tweet 8", "❌ Action: Retweet\nTweet ID: 8\nStatus: Failed\nReason: Retweet cooldown is active. Please wait 1 minute before retweeting again."},
		{`twitter post-tweet "still allowed"`, "✅ Action: Send Tweet\nTweet ID: t-102\nStatus: Success\nText: still allowed\nMedia: None\nDetails: Successfully sent tweet"},
		{`twitter post-tweet "too soon"`, "❌ Action: Send Tweet\nStatus: Failed\nReason: Main tweet cooldown is active. Please wait 60 minutes before tweeting again."},
		{`twitter post-tweet "with a picture" https://a.png`, "✅ Action: Send Tweet\nTweet ID: t-103\nStatus: Success\nText: with a picture\nMedia: https://a.png\nDetails: Successfully sent tweet"},
		{`twitter reply-to-tweet 8 "replies are free"`, "✅ Action: Reply Tweet\nParent Tweet ID: 8\nReply Tweet ID: t-104\nStatus: Success\nText: replies are free\nMedia: None\nDetails: Successfully replied to tweet"},
	}
	for _, tt := range tests {
		if got := h.run(t, tt.line); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.line, got, tt.want)
		}
	}

	want := strings.Join([]string{
		"Main Tweet: CANNOT SEND A MAIN TWEET. COOLDOWN IS ACTIVE (60 minutes remaining)",
		"Quote Tweet: CAN SEND A QUOTE TWEET. COOLDOWN IS INACTIVE",
		"Retweet: CANNOT SEND A RETWEET. COOLDOWN IS ACTIVE (1 minute remaining)",
		"Media Tweet: CANNOT SEND A MEDIA TWEET. COOLDOWN IS ACTIVE (60 minutes remaining)",
	}, "\n")
	if got := h.run(t, "twitter cooldowns"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	h.now = h.now.Add(time.Minute)
	if got := h.run(t, "twitter re-tweet 8"); !strings.HasPrefix(got, "✅ Action: Retweet") {
		t.Errorf("got %q", got)
	}
}

func TestCooldownDisabled(t *testing.T) {
	store := storage.NewMemoryStore()
	f := New(NewLocalClient(store, "cypher"), WithCooldown(0))

	r := terminal.NewRegistry(nil)
	cmds, err := f.Commands(context.Background())
	if err != nil {
		t.Fatalf("Commands: %v", err)
	}
	r.Register(cmds...)
	disp := terminal.NewDispatcher(r)

	for _, text := range []string{"one", "two"} {
		exec := disp.Execute(context.Background(), "twitter post-tweet "+text)
		if !exec.Success || !strings.HasPrefix(exec.Output, "✅ Action: Send Tweet") {
			t.Errorf("%s: got %q", text, exec.Output)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name  string
		tweet storage.Tweet
		want  TweetKind
		ok    bool
	}{
		{"main", storage.Tweet{Text: "gm"}, KindMain, true},
		{"media", storage.Tweet{MediaURLs: []string{"https://a.png"}}, KindMedia, true},
		{"quote with media", storage.Tweet{QuoteOf: "1", MediaURLs: []string{"https://a.png"}}, KindQuote, true},
		{"retweet", storage.Tweet{RetweetOf: "1"}, KindRetweet, true},
		{"reply", storage.Tweet{InReplyTo: "1"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KindOf(tt.tweet)
			if got != tt.want || ok != tt.ok {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLikeTweet(t *testing.T) {
	h := newHarness(t, storage.Tweet{ID: "7", Author: "alice", Text: "ship it", CreatedAt: base})

	tests := []struct {
		line string
		want string
	}{
		{"twitter like-tweet 7", "✅ Action: Like Tweet\nTweet ID: 7\nStatus: Success\nDetails: Successfully liked tweet"},
		{"twitter like-tweet 7", "❌ Action: Like Tweet\nTweet ID: 7\nStatus: Failed\nDetails: Tweet already liked"},
		{"twitter like-tweet 404", "❌ Action: Like Tweet\nTweet ID: 404\nStatus: Failed\nDetails: Tweet 404 not found"},
	}
	for _, tt := range tests {
		if got := h.run(t, tt.line); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestQuoteTweet(t *testing.T) {
	h := newHarness(t, storage.Tweet{ID: "7", Author: "alice", Text: "ship it", CreatedAt: base})

	out := h.run(t, `twitter quote-tweet 7 "agreed"`)
	want := "✅ Action: Quote Tweet\nQuoted Tweet ID: 7\nNew Tweet ID: t-101\nStatus: Success\nText: agreed\nMedia: None\nDetails: Successfully quoted tweet"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestGetTweetsAndSearch(t *testing.T) {
	h := newHarness(t,
		storage.Tweet{ID: "1", Author: "alice", Text: "golang is fun", CreatedAt: base},
		storage.Tweet{ID: "2", Author: "bob", Text: "Rust and Golang", CreatedAt: base.Add(time.Minute)},
	)

	got := h.run(t, "twitter get-tweets @alice")
	want := "📝 - [1] @alice (02/01/24 - 3:04 PM UTC): golang is fun" + threadHint
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = h.run(t, "twitter search-twitter golang 1")
	want = "🔍 - [2] @bob (02/01/24 - 3:05 PM UTC): Rust and Golang" + threadHint
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := h.run(t, "twitter get-tweets nobody"); got != "📭 No unhandled tweets found for @nobody." {
		t.Errorf("got %q", got)
	}
}

func TestGetThread(t *testing.T) {
	h := newHarness(t,
		storage.Tweet{ID: "1", Author: "alice", Text: "root", CreatedAt: base},
		storage.Tweet{ID: "2", Author: "bob", Text: "middle", InReplyTo: "1", CreatedAt: base.Add(time.Minute)},
		storage.Tweet{ID: "3", Author: "carol", Text: "leaf", InReplyTo: "2", CreatedAt: base.Add(2 * time.Minute)},
	)

	got := h.run(t, "twitter get-thread 2")
	want := strings.Join([]string{
		"### Thread for tweet [2]",
		"- [1] @alice (02/01/24 - 3:04 PM UTC): root",
		"- [2] @bob (02/01/24 - 3:05 PM UTC): middle  <- this tweet",
		"- [3] @carol (02/01/24 - 3:06 PM UTC): leaf",
	}, "\n")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := h.run(t, "twitter get-thread 99"); got != "📭 No content found for this tweet thread." {
		t.Errorf("got %q", got)
	}
}

func TestParseMedia(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" , ", nil},
		{"a", []string{"a"}},
		{"a, b ,,c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		if got := parseMedia(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseMedia(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}
