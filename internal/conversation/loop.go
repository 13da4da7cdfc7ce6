package conversation

import (
	"context"
	"time"
)

// Converse starts a session and runs its turn loop in the background.
// The first bot answers prompt; every later turn answers the previous reply.
func (o *Orchestrator) Converse(ctx context.Context, groupID, initiator, prompt string) (string, error) {
	g, s, first, err := o.start(groupID, initiator, prompt)
	if err != nil {
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx, g, s, first, prompt)
	}()
	return first.Name(), nil
}

// Wait blocks until every turn loop has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, g *group, s *session, first Agent, prompt string) {
	result, err := o.takeTurn(ctx, g, s, first, prompt)
	for err == nil {
		if !o.current(g, s) {
			return
		}
		if !o.pause(ctx, s, result.Delay) {
			break
		}
		if !o.current(g, s) {
			return
		}
		result, err = o.handleTurn(ctx, g, s, result.Reply)
	}
	if ctx.Err() != nil {
		o.endSession(g, s, ReasonShutdown)
	}
}

func (o *Orchestrator) current(g *group, s *session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session == s
}

// pause sleeps for delay unless the session ends or ctx is cancelled first.
func (o *Orchestrator) pause(ctx context.Context, s *session, delay time.Duration) bool {
	if delay <= 0 {
		select {
		case <-s.done:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}
