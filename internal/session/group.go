package session

import (
	"context"
	"sync"
)

// Group runs sessions side by side. Each session starts on its own
// goroutine; a failure in one is logged and leaves the others untouched.
type Group struct {
	sessions []*Session
	logger   Logger

	startOnce sync.Once
	wg        sync.WaitGroup
	done      chan struct{}
}

// NewGroup creates a group over sessions. A nil logger discards output.
func NewGroup(logger Logger, sessions ...*Session) *Group {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Group{
		sessions: sessions,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches every session and returns immediately. Later calls are
// no-ops.
func (g *Group) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		for _, s := range g.sessions {
			g.wg.Add(1)
			go g.run(ctx, s)
		}
		go func() {
			g.wg.Wait()
			close(g.done)
		}()
	})
}

func (g *Group) run(ctx context.Context, s *Session) {
	defer g.wg.Done()

	if err := s.Start(ctx); err != nil {
		g.logger.Error("session failed to start", "session", s.Name(), "error", err)
	}

	<-s.Done()
	<-s.Drained()

	g.logger.Info("session ended", "session", s.Name(), "state", string(s.State()))
}

// Done is closed once every session is terminal and has drained its events.
func (g *Group) Done() <-chan struct{} {
	return g.done
}

// Live returns the number of sessions not yet terminal.
func (g *Group) Live() int {
	n := 0
	for _, s := range g.sessions {
		if s.State().Live() {
			n++
		}
	}
	return n
}

// Sessions returns the sessions in configuration order.
func (g *Group) Sessions() []*Session {
	return append([]*Session(nil), g.sessions...)
}

// States reports each session's state by name.
func (g *Group) States() map[string]State {
	states := make(map[string]State, len(g.sessions))
	for _, s := range g.sessions {
		states[s.Name()] = s.State()
	}
	return states
}

// Close closes every session. It does not wait for Done.
func (g *Group) Close() {
	for _, s := range g.sessions {
		s.Close()
	}
}
