package e2e

import (
	"github.com/cucumber/godog"

	"steward/e2e/steps/approval"
	"steward/e2e/steps/common"
	"steward/e2e/steps/ratelimit"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (identities, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register maker-checker workflow steps
	approval.RegisterSteps(ctx, tc)

	// Register mutation quota steps
	ratelimit.RegisterSteps(ctx, tc)
}
