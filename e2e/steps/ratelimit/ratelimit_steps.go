package ratelimit

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	ActAs(name string) error
	POST(path string, body any) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers mutation quota steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^"([^"]*)" submits zones until refused, at most (\d+) times$`, steps.submitUntilRefused)
	ctx.Step(`^a change should eventually be refused with status (\d+)$`, steps.refusedWith)
}

type ratelimitSteps struct {
	tc       TestContext
	statuses []int
}

func (s *ratelimitSteps) submitUntilRefused(_ context.Context, user string, attempts int) error {
	if err := s.tc.ActAs(user); err != nil {
		return err
	}
	s.statuses = s.statuses[:0]
	for i := range attempts {
		body := map[string]any{"name": fmt.Sprintf("Zone %d", i), "city": "Oslo"}
		if err := s.tc.POST("/api/records/zone", body); err != nil {
			return err
		}
		status := s.tc.GetLastResponseStatus()
		s.statuses = append(s.statuses, status)
		if status == 429 {
			return nil
		}
	}
	return nil
}

func (s *ratelimitSteps) refusedWith(_ context.Context, want int) error {
	for _, status := range s.statuses {
		if status == want {
			return nil
		}
	}
	return fmt.Errorf("no request was refused with %d after %d attempts (last body %s)",
		want, len(s.statuses), s.tc.GetLastResponseBody())
}
