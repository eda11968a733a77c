package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pacebot/internal/eventbus"
	"pacebot/internal/queue"
	rtsup "pacebot/internal/runtime/supervisor"
	"pacebot/internal/sender"
	"pacebot/internal/transport"
	logx "pacebot/pkg/logx"
)

const recentEvents = 5

// commands answers owner commands arriving as text updates.
type commands struct {
	log     logx.Logger
	lanes   *sender.Service
	reply   transport.Sender
	events  *eventbus.Recorder
	limiter *rate.Limiter
	health  func() rtsup.Snapshot // set before dispatch starts

	mu     sync.RWMutex
	owners map[int64]struct{}
}

func newCommands(log logx.Logger, lanes *sender.Service, reply transport.Sender, events *eventbus.Recorder, owners []int64, perSec float64) *commands {
	c := &commands{
		log:     log,
		lanes:   lanes,
		reply:   reply,
		events:  events,
		limiter: newCommandLimiter(perSec),
	}
	c.setOwners(owners)
	return c
}

func newCommandLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

func (c *commands) setOwners(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	c.mu.Lock()
	c.owners = m
	c.mu.Unlock()
}

func (c *commands) setRate(perSec float64) {
	c.mu.Lock()
	c.limiter = newCommandLimiter(perSec)
	c.mu.Unlock()
}

func (c *commands) isOwner(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.owners[id]
	return ok
}

func (c *commands) allow() bool {
	c.mu.RLock()
	l := c.limiter
	c.mu.RUnlock()
	return l.Allow()
}

// dispatch consumes updates until ctx is done or in is closed.
func (c *commands) dispatch(ctx context.Context, in <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-in:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			c.handleMessage(ctx, up.Message)
		}
	}
}

func (c *commands) handleMessage(ctx context.Context, m *transport.Message) {
	name, args, ok := parseCommand(m.Text)
	if !ok {
		return
	}
	if !c.isOwner(m.FromID) {
		c.log.Debug("command ignored: not an owner", logx.String("cmd", name), logx.Int64("from", m.FromID))
		return
	}
	if !c.allow() {
		c.log.Debug("command dropped: rate limited", logx.String("cmd", name))
		return
	}

	text := c.run(name, args)
	if text == "" {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	to := transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if _, err := c.reply.SendText(sctx, to, text, &transport.SendOptions{DisablePreview: true}); err != nil {
		c.log.Warn("command reply failed", logx.String("cmd", name), logx.Err(err))
	}
}

// run executes a command and returns the reply text.
func (c *commands) run(name string, args []string) string {
	switch name {
	case "queue":
		return c.queueStatus()
	case "send":
		return c.send(args)
	case "help", "start":
		return "/queue - lane status and recent events\n/send <lane> <chat_id> <text> - queue a message"
	default:
		return ""
	}
}

func (c *commands) queueStatus() string {
	var b strings.Builder
	b.WriteString(c.lanes.FormatStats())
	if c.health != nil {
		b.WriteString("\n\n")
		b.WriteString(formatRuntime(c.health()))
	}
	if c.events != nil {
		if evs := c.events.Last(recentEvents); len(evs) > 0 {
			b.WriteString("\n\nrecent:")
			for _, e := range evs {
				b.WriteString("\n")
				b.WriteString(formatEvent(e))
			}
		}
	}
	return b.String()
}

// formatRuntime summarizes app goroutines; only troubled ones are listed.
func formatRuntime(snap rtsup.Snapshot) string {
	line := fmt.Sprintf("runtime: active=%d started=%d", snap.Counters.Active, snap.Counters.Started)
	if snap.FirstError != "" {
		line += "\nerror: " + snap.FirstError
	}
	for _, g := range snap.Goroutines {
		if g.Restarts == 0 && g.Panics == 0 {
			continue
		}
		line += fmt.Sprintf("\n%s restarts=%d panics=%d", g.Name, g.Restarts, g.Panics)
		if g.LastErr != "" {
			line += " err=" + g.LastErr
		}
	}
	return line
}

func formatEvent(e eventbus.Event) string {
	line := e.Time.Format(time.TimeOnly) + " " + strings.TrimPrefix(e.Type, "queue.")
	je, ok := e.Data.(queue.JobEvent)
	if !ok {
		return line
	}
	line += " " + je.Queue
	if id, ok := je.Meta["id"].(string); ok && id != "" {
		line += " " + shortID(id)
	}
	if je.Count > 0 {
		line += fmt.Sprintf(" count=%d", je.Count)
	}
	if je.Error != "" {
		line += " err=" + je.Error
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (c *commands) send(args []string) string {
	if len(args) < 3 {
		return "usage: /send <lane> <chat_id> <text>"
	}
	chatID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "invalid chat_id: " + args[1]
	}
	msg := sender.Message{ChatID: chatID, Text: strings.Join(args[2:], " ")}
	_, id, err := c.lanes.Send(args[0], msg, queue.Meta{"origin": "command"})
	switch {
	case errors.Is(err, sender.ErrUnknownLane):
		return fmt.Sprintf("unknown lane %q (have: %s)", args[0], strings.Join(c.lanes.Lanes(), ", "))
	case err != nil:
		return "rejected: " + err.Error()
	}
	return fmt.Sprintf("queued on %s as %s", args[0], shortID(id))
}

// parseCommand splits "/name@bot arg1 arg2" into name and args.
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
