// Package chat puts two agents in a room. They take turns, and each reply
// becomes the other's next input.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cypher/model"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("cypher/chat")

// DefaultTurns is how many turns a room runs unless told otherwise.
const DefaultTurns = 10

// ErrTurnFailed is returned when a participant's run does not succeed.
var ErrTurnFailed = errors.New("chat: turn failed")

// Agent is the part of *agent.Agent a room uses.
type Agent interface {
	Run(ctx context.Context, input string, vars map[string]string) model.RunResult
}

// Participant is one side of the conversation.
type Participant struct {
	Name  string
	Agent Agent
}

// Turn is one exchange: Speaker answered Input with Output.
type Turn struct {
	Number  int       `json:"number"`
	Speaker string    `json:"speaker"`
	Input   string    `json:"input"`
	Output  string    `json:"output"`
	At      time.Time `json:"at"`
}

// Option configures a Room.
type Option func(*Room)

// WithTurns sets the number of turns. Values below one are ignored.
func WithTurns(n int) Option {
	return func(r *Room) {
		if n > 0 {
			r.turns = n
		}
	}
}

// WithDelay pauses between turns.
func WithDelay(d time.Duration) Option {
	return func(r *Room) { r.delay = d }
}

// WithSleep replaces the context-aware sleep used for the delay.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Room) { r.sleep = sleep }
}

// WithLogger sets the logger. If not set, slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Room) { r.logger = logger }
}

// WithTurnHandler is called after every successful turn. A handler error
// stops the conversation.
func WithTurnHandler(h func(ctx context.Context, t Turn) error) Option {
	return func(r *Room) { r.handlers = append(r.handlers, h) }
}

// Room alternates two participants, first one speaking first.
type Room struct {
	speakers [2]Participant
	turns    int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
	handlers []func(ctx context.Context, t Turn) error
	now      func() time.Time
}

// NewRoom returns a room where first opens and second answers.
func NewRoom(first, second Participant, opts ...Option) *Room {
	r := &Room{
		speakers: [2]Participant{first, second},
		turns:    DefaultTurns,
		sleep:    sleepContext,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run feeds opening to the first participant and passes each reply to the
// other one until the turns run out. It returns the completed turns, along
// with the error that stopped the room early, if any.
func (r *Room) Run(ctx context.Context, opening string) ([]Turn, error) {
	input := opening
	done := make([]Turn, 0, r.turns)

	for n := 1; n <= r.turns; n++ {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		speaker := r.speakers[(n-1)%2]

		t, err := r.turn(ctx, n, speaker, input)
		if err != nil {
			return done, err
		}
		done = append(done, t)

		for _, h := range r.handlers {
			if err := h(ctx, t); err != nil {
				return done, fmt.Errorf("chat: turn %d handler: %w", n, err)
			}
		}

		input = t.Output
		if n < r.turns {
			if err := r.sleep(ctx, r.delay); err != nil {
				return done, err
			}
		}
	}
	r.logger.Info("chat finished", "turns", len(done))
	return done, nil
}

func (r *Room) turn(ctx context.Context, n int, speaker Participant, input string) (Turn, error) {
	ctx, span := tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.Int("chat.turn", n),
		attribute.String("chat.speaker", speaker.Name),
	))
	defer span.End()

	r.logger.Debug("chat turn", "turn", n, "speaker", speaker.Name)
	res := speaker.Agent.Run(ctx, input, nil)
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
		r.logger.Error("chat turn failed", "turn", n, "speaker", speaker.Name, "error", res.Error)
		return Turn{}, fmt.Errorf("%w: turn %d (%s): %s", ErrTurnFailed, n, speaker.Name, res.Error)
	}

	return Turn{
		Number:  n,
		Speaker: speaker.Name,
		Input:   input,
		Output:  outputText(res.Output),
		At:      r.now(),
	}, nil
}

// outputText renders a run's output as the next speaker's input.
// Structured output travels as JSON.
func outputText(out any) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprint(out)
	}
	return string(b)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
