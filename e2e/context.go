// Package e2e drives a running steward server through its HTTP API.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const devSigningKey = "dev-secret-key-change-in-production"

// User is a principal the scenarios act as.
type User struct {
	Email          string
	Name           string
	Role           string
	TenantID       string
	AllowedDomains []string
}

// TestContext carries per-scenario state: the users in play, who is acting,
// and the last response.
type TestContext struct {
	baseURL    string
	signingKey string
	issuer     string
	audience   string
	client     *http.Client

	users   map[string]User
	actor   string
	saved   map[string]string
	headers map[string]string

	lastStatus int
	lastBody   []byte
}

// NewTestContext reads the target server from the environment.
func NewTestContext() *TestContext {
	return &TestContext{
		baseURL:    envOr("STEWARD_BASE_URL", "http://localhost:8080"),
		signingKey: envOr("JWT_SIGNING_KEY", devSigningKey),
		issuer:     envOr("JWT_ISSUER", "steward"),
		audience:   envOr("JWT_AUDIENCE", "steward-console"),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Reset clears scenario state.
func (tc *TestContext) Reset() {
	tc.users = map[string]User{}
	tc.saved = map[string]string{}
	tc.headers = map[string]string{}
	tc.actor = ""
	tc.lastStatus = 0
	tc.lastBody = nil
}

// AddUserClaims registers a user under a short name, e.g. "alice".
func (tc *TestContext) AddUserClaims(name, email, role, tenant string, domains []string) {
	tc.users[name] = User{
		Email:          email,
		Name:           name,
		Role:           role,
		TenantID:       tenant,
		AllowedDomains: domains,
	}
}

// ActAs makes subsequent requests carry name's token.
func (tc *TestContext) ActAs(name string) error {
	if _, ok := tc.users[name]; !ok {
		return fmt.Errorf("unknown user %q", name)
	}
	tc.actor = name
	return nil
}

// SetHeader adds a header to every following request in the scenario.
func (tc *TestContext) SetHeader(key, value string) {
	tc.headers[key] = value
}

// Save stores a value under key for later steps.
func (tc *TestContext) Save(key, value string) {
	tc.saved[key] = value
}

// Saved returns a value stored with Save.
func (tc *TestContext) Saved(key string) (string, error) {
	v, ok := tc.saved[key]
	if !ok {
		return "", fmt.Errorf("nothing saved as %q", key)
	}
	return v, nil
}

// Expand replaces {key} placeholders with saved values.
func (tc *TestContext) Expand(path string) string {
	for k, v := range tc.saved {
		path = strings.ReplaceAll(path, "{"+k+"}", v)
	}
	return path
}

func (tc *TestContext) GET(path string) error {
	return tc.Do(http.MethodGet, path, nil)
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.Do(http.MethodPost, path, body)
}

func (tc *TestContext) PUT(path string, body any) error {
	return tc.Do(http.MethodPut, path, body)
}

func (tc *TestContext) DELETE(path string) error {
	return tc.Do(http.MethodDelete, path, nil)
}

// Do sends a request as the current actor and records the response.
func (tc *TestContext) Do(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, tc.baseURL+tc.Expand(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range tc.headers {
		req.Header.Set(k, v)
	}
	if tc.actor != "" {
		token, err := tc.token(tc.users[tc.actor])
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) token(u User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"email":           u.Email,
		"name":            u.Name,
		"role":            u.Role,
		"tenant_id":       u.TenantID,
		"allowed_domains": u.AllowedDomains,
		"iss":             tc.issuer,
		"aud":             tc.audience,
		"iat":             now.Unix(),
		"exp":             now.Add(15 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tc.signingKey))
}

func (tc *TestContext) GetLastResponseStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}

// GetResponseField reads a dotted path ("records.0.status") from the last
// JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var v any
	if err := json.Unmarshal(tc.lastBody, &v); err != nil {
		return nil, fmt.Errorf("decode response: %w (body %s)", err, tc.lastBody)
	}
	for _, part := range strings.Split(field, ".") {
		switch node := v.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %q not found in %s", field, tc.lastBody)
			}
			v = next
		case []any:
			var i int
			if _, err := fmt.Sscanf(part, "%d", &i); err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range in %s", part, tc.lastBody)
			}
			v = node[i]
		default:
			return nil, fmt.Errorf("field %q not found in %s", field, tc.lastBody)
		}
	}
	return v, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
