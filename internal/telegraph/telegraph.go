package telegraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/775kkk/logic-signal-protector-sub000/internal/router"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxInFlight bounds concurrently routed messages.
const DefaultMaxInFlight = 16

// Handler routes one envelope. *router.Router satisfies it.
type Handler interface {
	Route(ctx context.Context, env router.Envelope) (router.Response, error)
}

// Daemon is the chat bridge process. It connects to a chat platform via an
// Adapter, routes each inbound message through the Handler and sends the
// rendered response back to the conversation it came from.
type Daemon struct {
	adapter      Adapter
	handler      Handler
	announce     string
	sem          *semaphore.Weighted
	newCorrelate func() string
	log          *zap.Logger

	wg sync.WaitGroup
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter         Adapter
	Handler         Handler
	AnnounceChannel string        // optional; receives online/shutdown notices
	MaxInFlight     int           // defaults to DefaultMaxInFlight
	CorrelationID   func() string // defaults to uuid.NewString
	Logger          *zap.Logger
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("telegraph: handler is required")
	}
	n := opts.MaxInFlight
	if n <= 0 {
		n = DefaultMaxInFlight
	}
	d := &Daemon{
		adapter:      opts.Adapter,
		handler:      opts.Handler,
		announce:     opts.AnnounceChannel,
		sem:          semaphore.NewWeighted(int64(n)),
		newCorrelate: opts.CorrelationID,
		log:          opts.Logger,
	}
	if d.newCorrelate == nil {
		d.newCorrelate = uuid.NewString
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d, nil
}

// Run connects the adapter and pumps inbound messages until the context is
// cancelled or the adapter closes its inbound channel. Each message is routed
// on its own goroutine; at most MaxInFlight run at once. On shutdown Run
// waits for in-flight messages and closes the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("telegraph connecting")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	d.log.Info("telegraph online")
	d.notify(ctx, "Command bridge online")

	for {
		select {
		case <-ctx.Done():
			d.log.Info("telegraph shutting down")
			d.wg.Wait()
			d.notify(context.Background(), "Command bridge shutting down")
			if err := d.adapter.Close(); err != nil {
				d.log.Warn("close adapter", zap.Error(err))
			}
			d.log.Info("telegraph stopped")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				d.log.Info("telegraph inbound channel closed")
				d.wg.Wait()
				return nil
			}
			if botUserID != "" && msg.UserID == botUserID {
				continue
			}
			if err := d.sem.Acquire(ctx, 1); err != nil {
				continue
			}
			d.wg.Add(1)
			go func(msg InboundMessage) {
				defer d.wg.Done()
				defer d.sem.Release(1)
				d.Handle(ctx, msg)
			}(msg)
		}
	}
}

// Handle routes a single inbound message and sends the reply.
func (d *Daemon) Handle(ctx context.Context, msg InboundMessage) {
	env := Envelope(msg)
	env.CorrelationID = d.newCorrelate()

	resp, err := d.handler.Route(ctx, env)
	if err != nil {
		d.log.Error("route message",
			zap.String("platform", msg.Platform),
			zap.String("channel", msg.ChannelID),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err))
		return
	}

	if resp.UIHints[router.HintDeleteMessage] == "true" && msg.MessageID != "" {
		if del, ok := d.adapter.(MessageDeleter); ok {
			if err := del.DeleteMessage(ctx, msg.ChannelID, msg.MessageID); err != nil {
				d.log.Warn("delete credential message",
					zap.String("channel", msg.ChannelID),
					zap.Error(err))
			}
		}
	}

	out := Render(resp)
	out.ChannelID = msg.ChannelID
	out.ThreadID = msg.ThreadID
	if err := d.adapter.Send(ctx, out); err != nil {
		d.log.Warn("send reply",
			zap.String("channel", msg.ChannelID),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err))
	}
}

// Envelope builds the router envelope for an inbound message. A thread is
// its own conversation; top-level messages share the channel's.
func Envelope(msg InboundMessage) router.Envelope {
	chatID := msg.ChannelID
	if msg.ThreadID != "" {
		chatID += "/" + msg.ThreadID
	}
	return router.Envelope{
		Channel:        msg.Platform,
		ExternalUserID: msg.UserID,
		ChatID:         chatID,
		MessageID:      msg.MessageID,
		Text:           msg.Text,
		CallbackData:   msg.CallbackData,
	}
}

// notify posts a status line to the announce channel (best-effort).
func (d *Daemon) notify(ctx context.Context, text string) {
	if d.announce == "" {
		return
	}
	if err := d.adapter.Send(ctx, OutboundMessage{ChannelID: d.announce, Text: text}); err != nil {
		d.log.Warn("send status message", zap.String("text", text), zap.Error(err))
	}
}
