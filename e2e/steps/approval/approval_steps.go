package approval

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	ActAs(name string) error
	Save(key, value string)
	Saved(key string) (string, error)
	GET(path string) error
	POST(path string, body any) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers maker-checker workflow steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &approvalSteps{tc: tc}

	ctx.Step(`^"([^"]*)" creates a pricing rule "([^"]*)" with rate ([\d.]+)$`, steps.createPricingRule)
	ctx.Step(`^"([^"]*)" (approves|rejects) the pricing rule$`, steps.decide)
	ctx.Step(`^the pricing rule status should be "([^"]*)"$`, steps.statusShouldBe)
	ctx.Step(`^"([^"]*)" sees "([^"]*)" as the latest audit entry for the pricing rule$`, steps.latestAuditAction)
}

type approvalSteps struct {
	tc TestContext
}

func (s *approvalSteps) createPricingRule(_ context.Context, user, name string, rate float64) error {
	if err := s.tc.ActAs(user); err != nil {
		return err
	}
	if err := s.tc.POST("/api/records/pricing", map[string]any{"name": name, "rate": rate}); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != 201 {
		return fmt.Errorf("create pricing rule: status %d: %s", status, s.tc.GetLastResponseBody())
	}
	recordID, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Save("recordId", fmt.Sprint(recordID))
	return nil
}

func (s *approvalSteps) decide(_ context.Context, user, verb string) error {
	if err := s.tc.ActAs(user); err != nil {
		return err
	}
	recordID, err := s.tc.Saved("recordId")
	if err != nil {
		return err
	}
	action := map[string]string{"approves": "approve", "rejects": "reject"}[verb]
	return s.tc.POST("/api/records/pricing/"+recordID+"/"+action, nil)
}

func (s *approvalSteps) statusShouldBe(_ context.Context, want string) error {
	recordID, err := s.tc.Saved("recordId")
	if err != nil {
		return err
	}
	if err := s.tc.GET("/api/records/pricing/" + recordID); err != nil {
		return err
	}
	got, err := s.tc.GetResponseField("status")
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected status %q, got %q", want, got)
	}
	return nil
}

func (s *approvalSteps) latestAuditAction(_ context.Context, user, want string) error {
	if err := s.tc.ActAs(user); err != nil {
		return err
	}
	recordID, err := s.tc.Saved("recordId")
	if err != nil {
		return err
	}
	if err := s.tc.GET("/api/audit?entityType=pricing&entityId=" + recordID + "&limit=1"); err != nil {
		return err
	}
	got, err := s.tc.GetResponseField("entries.0.action")
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected latest audit action %q, got %q", want, got)
	}
	return nil
}
