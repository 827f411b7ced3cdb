// Package authz is the authorization policy checker of the gRPC
// service.
//
// A policy is a list of grants and denials. Each names user patterns
// and method patterns, matched with path.Match against the caller's
// certificate common name and the full gRPC method name
// ("/package.Service/Method"). A call is allowed when a grant matches
// and no denial does. Without a loaded policy, or with a policy that is
// not enabled, every call is allowed.
package authz

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

// Exempt methods are allowed regardless of the policy.
var Exempt = []string{
	"/grpc.health.v1.Health/*",
	"/grpc.reflection.v1.ServerReflection/*",
	"/grpc.reflection.v1alpha.ServerReflection/*",
}

// Rule names users and methods by pattern.
type Rule struct {
	Users   []string `yaml:"users"`
	Methods []string `yaml:"methods"`
}

func (r Rule) matches(user, method string) bool {
	return matchAny(r.Users, user) && matchAny(r.Methods, method)
}

// Policy is the YAML authorization policy.
type Policy struct {
	Enabled bool   `yaml:"enabled"`
	Grants  []Rule `yaml:"grants"`
	Denials []Rule `yaml:"denials"`
}

// Validate rejects malformed patterns.
func (p *Policy) Validate() error {
	check := func(kind string, i int, r Rule) error {
		if len(r.Users) == 0 || len(r.Methods) == 0 {
			return fmt.Errorf("%s %d: users and methods are required", kind, i)
		}
		for _, pat := range append(append([]string(nil), r.Users...), r.Methods...) {
			if _, err := path.Match(pat, ""); err != nil {
				return fmt.Errorf("%s %d: pattern %q: %w", kind, i, pat, err)
			}
		}
		return nil
	}
	for i, r := range p.Grants {
		if err := check("grant", i, r); err != nil {
			return err
		}
	}
	for i, r := range p.Denials {
		if err := check("denial", i, r); err != nil {
			return err
		}
	}
	return nil
}

// ParsePolicy decodes a YAML policy.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse authorization policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid authorization policy: %w", err)
	}
	return &p, nil
}

// Decision is the outcome of a check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Checker evaluates the current policy. The zero policy allows all.
type Checker struct {
	logger *slog.Logger

	mu     sync.RWMutex
	policy *Policy
	source string
}

// New returns a checker with no policy.
func New(logger *slog.Logger) *Checker {
	return &Checker{logger: logger.With("component", "authz")}
}

// Load replaces the policy with the one in path.
func (c *Checker) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read authorization policy: %w", err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return err
	}
	c.SetPolicy(p, path)
	return nil
}

// SetPolicy replaces the policy. source is used in log messages.
func (c *Checker) SetPolicy(p *Policy, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
	c.source = source
	enabled := p != nil && p.Enabled
	c.logger.Info("authorization policy loaded", "source", source, "enabled", enabled)
}

// Enabled reports whether a policy is being enforced.
func (c *Checker) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy != nil && c.policy.Enabled
}

// Evaluate returns the decision for user calling method.
func (c *Checker) Evaluate(user, method string) Decision {
	if matchAny(Exempt, method) {
		return Allow
	}

	c.mu.RLock()
	p := c.policy
	c.mu.RUnlock()

	if p == nil || !p.Enabled {
		return Allow
	}
	for _, d := range p.Denials {
		if d.matches(user, method) {
			return Deny
		}
	}
	for _, g := range p.Grants {
		if g.matches(user, method) {
			return Allow
		}
	}
	return Deny
}

// Authorize returns a PermissionDenied status error when user may not
// call method.
func (c *Checker) Authorize(user, method string) error {
	if c.Evaluate(user, method) == Allow {
		return nil
	}
	who := user
	if who == "" {
		who = "<anonymous>"
	}
	c.logger.Warn("call denied", "user", who, "method", method)
	return status.Errorf(codes.PermissionDenied, "permission denied: %s may not call %s", who, method)
}

func matchAny(patterns []string, s string) bool {
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, s); ok {
			return true
		}
	}
	return false
}
