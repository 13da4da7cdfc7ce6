package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestPropertyDelayNeverBelowFloor(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		minDelay := time.Duration(rapid.Int64Range(0, int64(time.Minute)).Draw(rt, "min"))
		target := time.Duration(rapid.Int64Range(0, int64(2*time.Minute)).Draw(rt, "target"))
		elapsed := time.Duration(rapid.Int64Range(0, int64(5*time.Minute)).Draw(rt, "elapsed"))

		delay := Pacing{MinTurnDelay: minDelay, TargetTurnPeriod: target}.Delay(elapsed)
		if delay < 0 {
			rt.Fatalf("negative delay %s", delay)
		}
		if delay < minDelay {
			rt.Fatalf("delay %s below minimum %s", delay, minDelay)
		}
		if elapsed+delay < target {
			rt.Fatalf("turn period %s shorter than target %s", elapsed+delay, target)
		}
	})
}

func TestPropertyCursorFollowsRegistrationOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(2, 8).Draw(rt, "bots")
		initiator := rapid.IntRange(0, count-1).Draw(rt, "initiator")
		turns := rapid.IntRange(0, 20).Draw(rt, "turns")

		agents := make([]Agent, count)
		names := make([]string, count)
		for i := range agents {
			names[i] = fmt.Sprintf("bot-%d", i)
			agents[i] = newFakeAgent(names[i])
		}
		orchestrator, err := New(agents, Options{}, testLogger())
		if err != nil {
			rt.Fatalf("new orchestrator: %v", err)
		}

		first, ok := orchestrator.Start("group", names[initiator])
		if !ok {
			rt.Fatalf("start failed")
		}
		if want := names[(initiator+1)%count]; first != want {
			rt.Fatalf("expected %s first, got %s", want, first)
		}
		for turn := 1; turn <= turns; turn++ {
			result, err := orchestrator.HandleTurn(context.Background(), "group", "message")
			if err != nil {
				rt.Fatalf("turn %d: %v", turn, err)
			}
			if want := names[(initiator+1+turn)%count]; result.Bot != want {
				rt.Fatalf("turn %d: expected %s, got %s", turn, want, result.Bot)
			}
		}
		if !orchestrator.End("group") || orchestrator.IsActive("group") {
			rt.Fatalf("expected session to end cleanly")
		}
	})
}
