package common

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	AddUserClaims(name, email, role, tenant string, domains []string)
	ActAs(name string) error
	SetHeader(key, value string)
	Save(key, value string)
	GET(path string) error
	POST(path string, body any) error
	PUT(path string, body any) error
	DELETE(path string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers identity, request and assertion steps shared by
// every feature.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^a (Maker|Checker|Approver|Administrator) "([^"]*)" with email "([^"]*)" in tenant "([^"]*)" and domains "([^"]*)"$`, steps.declareUser)
	ctx.Step(`^an Administrator "([^"]*)" with email "([^"]*)"$`, steps.declareAdministrator)
	ctx.Step(`^I am "([^"]*)"$`, steps.actAs)
	ctx.Step(`^I use tenant override "([^"]*)"$`, steps.tenantOverride)

	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^I POST to "([^"]*)"$`, steps.postEmpty)
	ctx.Step(`^I POST to "([^"]*)" with:$`, steps.postJSON)
	ctx.Step(`^I PUT to "([^"]*)" with:$`, steps.putJSON)
	ctx.Step(`^I DELETE "([^"]*)"$`, steps.delete)
	ctx.Step(`^I save the response field "([^"]*)" as "([^"]*)"$`, steps.saveField)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.fieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should have (\d+) items?$`, steps.fieldShouldHaveItems)
	ctx.Step(`^the error should be "([^"]*)"$`, steps.errorShouldBe)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) declareUser(_ context.Context, role, name, email, tenant, domains string) error {
	s.tc.AddUserClaims(name, email, role, tenant, splitList(domains))
	return nil
}

func (s *commonSteps) declareAdministrator(_ context.Context, name, email string) error {
	s.tc.AddUserClaims(name, email, "Administrator", "", nil)
	return nil
}

func (s *commonSteps) actAs(_ context.Context, name string) error {
	return s.tc.ActAs(name)
}

func (s *commonSteps) tenantOverride(_ context.Context, tenant string) error {
	s.tc.SetHeader("X-Tenant-Override", tenant)
	return nil
}

func (s *commonSteps) get(_ context.Context, path string) error {
	return s.tc.GET(path)
}

func (s *commonSteps) postEmpty(_ context.Context, path string) error {
	return s.tc.POST(path, nil)
}

func (s *commonSteps) postJSON(_ context.Context, path string, doc *godog.DocString) error {
	body, err := decodeDoc(doc)
	if err != nil {
		return err
	}
	return s.tc.POST(path, body)
}

func (s *commonSteps) putJSON(_ context.Context, path string, doc *godog.DocString) error {
	body, err := decodeDoc(doc)
	if err != nil {
		return err
	}
	return s.tc.PUT(path, body)
}

func (s *commonSteps) delete(_ context.Context, path string) error {
	return s.tc.DELETE(path)
}

func (s *commonSteps) saveField(_ context.Context, field, key string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	s.tc.Save(key, fmt.Sprint(v))
	return nil
}

func (s *commonSteps) statusShouldBe(_ context.Context, want int) error {
	if got := s.tc.GetLastResponseStatus(); got != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) fieldShouldEqual(_ context.Context, field, want string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("expected %s to be %q, got %q", field, want, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldHaveItems(_ context.Context, field string, want int) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	items, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%s is not a list", field)
	}
	if len(items) != want {
		return fmt.Errorf("expected %d items in %s, got %d", want, field, len(items))
	}
	return nil
}

func (s *commonSteps) errorShouldBe(_ context.Context, code string) error {
	return s.fieldShouldEqual(context.Background(), "error", code)
}

func decodeDoc(doc *godog.DocString) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal([]byte(doc.Content), &body); err != nil {
		return nil, fmt.Errorf("step body is not JSON: %w", err)
	}
	return body, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
