// Package logonly is the transport used when no chat token is configured:
// outbound messages are written to the log and no updates are produced.
package logonly

import (
	"context"
	"sync/atomic"

	"signbot/internal/transport"
	logx "signbot/pkg/logx"
)

type Adapter struct {
	log logx.Logger
	seq atomic.Int64
}

func New(log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{log: log.With(logx.String("comp", "transport.logonly"))}
}

func (a *Adapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                           { return nil }

func (a *Adapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	id := int(a.seq.Add(1))
	a.log.Info("outbound message", logx.Int64("chat_id", to.ChatID), logx.String("text", text))
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}
