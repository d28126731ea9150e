// Package commands is the owner-only chat command surface of the bot.
package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "signbot/internal/runtime/supervisor"
	"signbot/internal/transport"
	logx "signbot/pkg/logx"
)

const defaultTimeout = 2 * time.Minute

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

type Command struct {
	Name        string // without the leading slash
	Usage       string
	Description string
	Timeout     time.Duration // default 2m
	Handle      HandlerFunc
}

type Request struct {
	Message transport.Message
	Chat    transport.ChatTarget
	Command string
	Args    []string
	ReqID   string
	Log     logx.Logger

	router *Router
}

// Reply sends text to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.router.sender.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// Background runs fn after the handler returns, bound to the router lifetime
// rather than the command timeout.
func (r *Request) Background(name string, fn func(ctx context.Context)) {
	r.router.background(name, fn)
}

// Router dispatches inbound text commands from owners. Messages from anyone
// else are dropped.
type Router struct {
	sender transport.Sender
	log    logx.Logger

	mu     sync.RWMutex
	owners map[int64]struct{}
	cmds   map[string]Command

	bgMu sync.Mutex
	bg   *rtsup.Supervisor
}

func NewRouter(sender transport.Sender, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{sender: sender, log: log.With(logx.String("comp", "commands")), cmds: map[string]Command{}}
	r.SetOwners(owners)
	r.Register(Command{Name: "help", Description: "列出可用命令", Handle: r.handleHelp})
	return r
}

// SetOwners replaces the allowed user ids (config reload).
func (r *Router) SetOwners(owners []int64) {
	m := make(map[int64]struct{}, len(owners))
	for _, id := range owners {
		m[id] = struct{}{}
	}
	r.mu.Lock()
	r.owners = m
	r.mu.Unlock()
}

func (r *Router) Register(c Command) {
	name := strings.ToLower(strings.TrimPrefix(c.Name, "/"))
	if name == "" || c.Handle == nil {
		return
	}
	c.Name = name
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	c.Handle = Chain(c.Handle, mwRecover(r.log), mwRequestLog(), mwTimeout(c.Timeout))
	r.mu.Lock()
	r.cmds[name] = c
	r.mu.Unlock()
}

// Serve consumes updates until ctx is done or the channel closes, then waits
// for background work started by handlers.
func (r *Router) Serve(ctx context.Context, updates <-chan transport.Update) error {
	bg := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.bgMu.Lock()
	r.bg = bg
	r.bgMu.Unlock()
	defer func() {
		bg.Cancel()
		_ = bg.Wait(context.Background())
		r.bgMu.Lock()
		r.bg = nil
		r.bgMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Dispatch(ctx, up)
		}
	}
}

// Dispatch handles one update synchronously.
func (r *Router) Dispatch(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	r.mu.RLock()
	_, owner := r.owners[msg.FromID]
	cmd, found := r.cmds[name]
	r.mu.RUnlock()

	if !owner {
		r.log.Debug("command from non-owner ignored", logx.Int64("from_id", msg.FromID), logx.String("cmd", name))
		return
	}
	if !found {
		return
	}

	reqID := uuid.NewString()[:8]
	req := &Request{
		Message: *msg,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		Command: name,
		Args:    args,
		ReqID:   reqID,
		Log:     r.log.With(logx.String("cmd", name), logx.String("req", reqID)),
		router:  r,
	}
	if err := cmd.Handle(ctx, req); err != nil {
		_ = req.Reply(ctx, "命令执行失败："+err.Error())
	}
}

func (r *Router) background(name string, fn func(ctx context.Context)) {
	r.bgMu.Lock()
	bg := r.bg
	r.bgMu.Unlock()
	if bg == nil {
		// Dispatch called outside Serve (tests).
		go fn(context.Background())
		return
	}
	bg.Go0(name, fn)
}

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.cmds))
	for n := range r.cmds {
		names = append(names, n)
	}
	cmds := r.cmds
	var b strings.Builder
	sort.Strings(names)
	for _, n := range names {
		c := cmds[n]
		line := "/" + n
		if c.Usage != "" {
			line += " " + c.Usage
		}
		if c.Description != "" {
			line += " - " + c.Description
		}
		b.WriteString(line + "\n")
	}
	r.mu.RUnlock()
	return req.Reply(ctx, strings.TrimSuffix(b.String(), "\n"))
}

// parseCommand splits "/name@bot a b" into ("name", ["a","b"]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name), fields[1:], name != ""
}

func mwTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func mwRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("command panic recovered", logx.String("cmd", req.Command), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", rec)
				}
			}()
			return next(ctx, req)
		}
	}
}

func mwRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.Message.FromID),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				req.Log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				req.Log.Debug("command ok", fields...)
			}
			return err
		}
	}
}
