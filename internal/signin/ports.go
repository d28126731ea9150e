package signin

import (
	"context"
	"time"

	"signbot/internal/config"
	"signbot/internal/sites"
	"signbot/internal/transport"
)

// SiteSource is the read side of the site registry.
type SiteSource interface {
	List() []sites.Site
	ByDomain(target string) (sites.Site, bool)
}

// Notifier delivers run summaries. A zero Target means the default chat.
type Notifier interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// Settings is the persisted sign-in configuration. config.Manager implements it.
type Settings interface {
	SignIn() config.SignInConfig
	UpdateSignIn(fn func(s *config.SignInConfig)) error
}

// Requester receives acknowledgements for a run started by an explicit command.
type Requester interface {
	Ack(ctx context.Context, text string)
}

// Recorder receives run and attempt observations. internal/metrics implements it.
type Recorder interface {
	ObserveRun(result string, took time.Duration)
	ObserveAttempt(category string, took time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRun(string, time.Duration)     {}
func (nopRecorder) ObserveAttempt(string, time.Duration) {}
