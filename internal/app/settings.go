package app

import (
	"reflect"
	"sync"

	"signbot/internal/config"
)

// signInSettings remembers the sign-in section this process last wrote or
// applied. Writes through UpdateSignIn are not published to subscribers, so
// reloads compare against this copy instead of the previous published config.
type signInSettings struct {
	*config.Manager

	mu      sync.Mutex
	applied config.SignInConfig
}

func newSignInSettings(m *config.Manager) *signInSettings {
	return &signInSettings{Manager: m, applied: m.SignIn()}
}

func (s *signInSettings) UpdateSignIn(fn func(c *config.SignInConfig)) error {
	if err := s.Manager.UpdateSignIn(fn); err != nil {
		return err
	}
	s.mu.Lock()
	s.applied = s.Manager.SignIn()
	s.mu.Unlock()
	return nil
}

// changed reports whether next differs from the remembered section and
// remembers next.
func (s *signInSettings) changed(next config.SignInConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(s.applied, next) {
		return false
	}
	s.applied = next.Clone()
	return true
}
