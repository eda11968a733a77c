package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pacebot/internal/config"
	"pacebot/internal/eventbus"
	"pacebot/internal/queue"
	"pacebot/internal/storage"
	"pacebot/internal/transport"
	logx "pacebot/pkg/logx"
)

var (
	ErrUnknownLane = errors.New("sender: unknown lane")
	ErrBadMessage  = errors.New("sender: invalid message")
)

// Message is the payload of a durable send job.
type Message struct {
	ChatID         int64  `json:"chat_id"`
	ThreadID       int    `json:"thread_id,omitempty"`
	Text           string `json:"text"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

func (m Message) validate() error {
	if m.ChatID == 0 {
		return fmt.Errorf("%w: chat_id is required", ErrBadMessage)
	}
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("%w: text is empty", ErrBadMessage)
	}
	return nil
}

type Options struct {
	Log    logx.Logger
	Store  storage.Store // nil keeps every lane in memory
	Bus    eventbus.Bus
	Sender transport.Sender
}

type Service struct {
	log    logx.Logger
	lanes  map[string]*queue.Queue
	names  []string
	sender transport.Sender

	mu       sync.Mutex
	reporter *reporter
}

// New builds one queue per configured lane. Lanes are not started.
func New(lanes map[string]config.LaneConfig, opt Options) (*Service, error) {
	if opt.Sender == nil {
		return nil, errors.New("sender: transport is required")
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "sender")),
		lanes:  make(map[string]*queue.Queue, len(lanes)),
		sender: opt.Sender,
	}
	for name, lc := range lanes {
		qcfg, err := LaneQueueConfig(name, lc)
		if err != nil {
			return nil, err
		}
		qopts := []queue.Option{
			queue.WithLogger(s.log.With(logx.String("lane", name))),
			queue.WithProcessor(s.deliver),
		}
		if opt.Bus != nil {
			qopts = append(qopts, queue.WithBus(opt.Bus))
		}
		if opt.Store != nil && lc.Persistent() {
			qopts = append(qopts, queue.WithStore(opt.Store))
		}
		q, err := queue.New(qcfg, qopts...)
		if err != nil {
			return nil, fmt.Errorf("lane %s: %w", name, err)
		}
		s.lanes[name] = q
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s, nil
}

// LaneQueueConfig converts a lane's config block into queue settings.
func LaneQueueConfig(name string, lc config.LaneConfig) (queue.Config, error) {
	p := "lanes." + name + "."
	cfg := queue.Config{
		Name:            name,
		MaxPerWindow:    lc.MaxPerWindow,
		LongPauseChance: lc.LongPauseChance,
	}
	var err error
	durs := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"min_interval", lc.MinInterval, &cfg.MinInterval},
		{"window", lc.Window, &cfg.Window},
		{"jitter", lc.Jitter, &cfg.Jitter},
		{"long_pause_min", lc.LongPauseMin, &cfg.LongPauseMin},
		{"long_pause_max", lc.LongPauseMax, &cfg.LongPauseMax},
	}
	for _, d := range durs {
		if *d.dst, err = config.ParseDurationField(p+d.field, d.raw); err != nil {
			return queue.Config{}, err
		}
	}
	if strings.TrimSpace(lc.StartDelay) != "" {
		d, err := config.ParseDurationField(p+"start_delay", lc.StartDelay)
		if err != nil {
			return queue.Config{}, err
		}
		if d == 0 {
			d = -1 // explicit "0s": drain restored jobs immediately
		}
		cfg.StartDelay = d
	}
	if err := cfg.Validate(); err != nil {
		return queue.Config{}, fmt.Errorf("lanes.%s: %w", name, err)
	}
	return cfg, nil
}

// deliver is the processor shared by every lane.
func (s *Service) deliver(ctx context.Context, payload json.RawMessage) (any, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return s.sender.SendText(ctx,
		transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
		m.Text,
		&transport.SendOptions{DisablePreview: m.DisablePreview},
	)
}

func (s *Service) Start(ctx context.Context) {
	for _, name := range s.names {
		s.lanes[name].Start(ctx)
	}
	s.log.Info("lanes started", logx.Any("lanes", s.names))
}

// Stop stops the reporter and every lane. Pending durable messages stay in
// their snapshots.
func (s *Service) Stop(ctx context.Context) {
	s.StopReporter()
	var wg sync.WaitGroup
	for _, name := range s.names {
		q := s.lanes[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Stop(ctx)
		}()
	}
	wg.Wait()
}

// Send enqueues a durable message on lane. meta is copied and gains an "id"
// unless it already carries one; the id is returned. The message itself is
// checked when it is delivered, so a malformed one fails through its handle.
func (s *Service) Send(lane string, msg Message, meta queue.Meta) (*queue.Handle, string, error) {
	q, ok := s.lanes[lane]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownLane, lane)
	}
	m := make(queue.Meta, len(meta)+2)
	for k, v := range meta {
		m[k] = v
	}
	id, _ := m["id"].(string)
	if id == "" {
		id = uuid.NewString()
		m["id"] = id
	}
	m["lane"] = lane
	d, err := queue.NewData(msg, m)
	if err != nil {
		return nil, "", err
	}
	return q.Enqueue(d), id, nil
}

// Do enqueues in-memory work on lane. It is paced like any message but is
// lost on restart.
func (s *Service) Do(lane string, fn func(ctx context.Context) (any, error), meta queue.Meta) (*queue.Handle, error) {
	q, ok := s.lanes[lane]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLane, lane)
	}
	return q.Enqueue(queue.Callback{Run: fn, Meta: meta}), nil
}

// Lanes returns the lane names in sorted order.
func (s *Service) Lanes() []string { return append([]string(nil), s.names...) }

// Stats returns every lane's stats, sorted by lane name.
func (s *Service) Stats() []queue.Stats {
	out := make([]queue.Stats, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.lanes[name].Stats())
	}
	return out
}
