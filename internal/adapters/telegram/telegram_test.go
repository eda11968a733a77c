package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"pacebot/internal/transport"
	logx "pacebot/pkg/logx"
)

type fakeBot struct {
	mu     sync.Mutex
	sent   []string
	opts   []*tele.SendOptions
	err    error
	nextID int
}

func (b *fakeBot) Handle(any, tele.HandlerFunc, ...tele.MiddlewareFunc) {}
func (b *fakeBot) Start()                                              {}
func (b *fakeBot) Stop()                                               {}

func (b *fakeBot) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.sent = append(b.sent, what.(string))
	if len(opts) > 0 {
		b.opts = append(b.opts, opts[0].(*tele.SendOptions))
	}
	b.nextID++
	return &tele.Message{ID: b.nextID}, nil
}

func TestSendTextSingle(t *testing.T) {
	bot := &fakeBot{}
	a := newAdapter(bot, logx.Nop())
	ref, err := a.SendText(context.Background(), transport.ChatTarget{ChatID: -100, ThreadID: 7}, "hi", &transport.SendOptions{DisablePreview: true})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref != (transport.MessageRef{ChatID: -100, ThreadID: 7, MessageID: 1}) {
		t.Fatalf("ref = %+v", ref)
	}
	if len(bot.opts) != 1 || bot.opts[0].ThreadID != 7 || !bot.opts[0].DisableWebPagePreview {
		t.Fatalf("opts = %+v", bot.opts)
	}
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	bot := &fakeBot{}
	a := newAdapter(bot, logx.Nop())
	text := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3000)
	ref, err := a.SendText(context.Background(), transport.ChatTarget{ChatID: 1}, text, nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(bot.sent) != 2 || bot.sent[0] != strings.Repeat("a", 3000) || bot.sent[1] != strings.Repeat("b", 3000) {
		t.Fatalf("chunks = %d", len(bot.sent))
	}
	if ref.MessageID != 1 {
		t.Fatalf("ref = %+v, want first chunk", ref)
	}
}

func TestSendTextFlood(t *testing.T) {
	bot := &fakeBot{err: tele.FloodError{RetryAfter: 5}}
	a := newAdapter(bot, logx.Nop())
	_, err := a.SendText(context.Background(), transport.ChatTarget{ChatID: 1}, "x", nil)
	if !errors.Is(err, ErrFlood) {
		t.Fatalf("err = %v, want ErrFlood", err)
	}
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  []int // rune length per chunk
	}{
		{"short", "hello", 10, []int{5}},
		{"empty", "", 10, []int{0}},
		{"hard cut", strings.Repeat("x", 25), 10, []int{10, 10, 5}},
		{"newline", "aaaaaaa\nbbbbbbb", 10, []int{7, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitText(tt.in, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("chunks = %q", got)
			}
			for i, n := range tt.want {
				if len([]rune(got[i])) != n {
					t.Fatalf("chunk %d = %q, want %d runes", i, got[i], n)
				}
			}
		})
	}
}

func TestForwardDropsWhenFull(t *testing.T) {
	a := newAdapter(&fakeBot{}, logx.Nop())
	a.forward(transport.Update{}) // no consumer yet

	out := make(chan transport.Update, 1)
	a.out.Store((chan<- transport.Update)(out))
	a.forward(transport.Update{Message: &transport.Message{Text: "1"}})
	a.forward(transport.Update{Message: &transport.Message{Text: "2"}})
	if got := a.droppedUpdates.Load(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	if up := <-out; up.Message.Text != "1" {
		t.Fatalf("first update = %q", up.Message.Text)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
