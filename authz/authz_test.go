package authz_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/sslauro/stratum/authz"
)

const policyYAML = `
enabled: true
grants:
  - users: ["controller-*"]
    methods: ["/p4.v1.P4Runtime/*", "/gnmi.gNMI/*"]
  - users: ["monitor"]
    methods: ["/gnmi.gNMI/Get", "/gnmi.gNMI/Subscribe"]
denials:
  - users: ["controller-staging"]
    methods: ["/p4.v1.P4Runtime/SetForwardingPipelineConfig"]
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadedChecker(t *testing.T) *authz.Checker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(policyYAML), 0o600))
	c := authz.New(testLogger())
	require.NoError(t, c.Load(path))
	return c
}

func TestChecker_NoPolicyAllowsAll(t *testing.T) {
	c := authz.New(testLogger())
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Authorize("", "/p4.v1.P4Runtime/Write"))
}

func TestChecker_DisabledPolicyAllowsAll(t *testing.T) {
	p, err := authz.ParsePolicy([]byte("enabled: false\n"))
	require.NoError(t, err)
	c := authz.New(testLogger())
	c.SetPolicy(p, "test")
	assert.Equal(t, authz.Allow, c.Evaluate("anyone", "/p4.v1.P4Runtime/Write"))
}

func TestChecker_Evaluate(t *testing.T) {
	c := loadedChecker(t)
	require.True(t, c.Enabled())

	tests := []struct {
		user   string
		method string
		want   authz.Decision
	}{
		{"controller-prod", "/p4.v1.P4Runtime/Write", authz.Allow},
		{"controller-prod", "/p4.v1.P4Runtime/SetForwardingPipelineConfig", authz.Allow},
		{"controller-staging", "/p4.v1.P4Runtime/Write", authz.Allow},
		{"controller-staging", "/p4.v1.P4Runtime/SetForwardingPipelineConfig", authz.Deny},
		{"monitor", "/gnmi.gNMI/Get", authz.Allow},
		{"monitor", "/gnmi.gNMI/Set", authz.Deny},
		{"", "/p4.v1.P4Runtime/Write", authz.Deny},
		{"", "/grpc.health.v1.Health/Check", authz.Allow},
	}
	for _, tt := range tests {
		t.Run(tt.user+tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Evaluate(tt.user, tt.method))
		})
	}
}

func TestChecker_AuthorizeStatus(t *testing.T) {
	c := loadedChecker(t)
	err := c.Authorize("monitor", "/gnmi.gNMI/Set")
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Contains(t, err.Error(), "monitor")
}

func TestParsePolicy_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "enabled: true\nallow_all: true\n"},
		{"bad pattern", "grants:\n  - users: [\"[\"]\n    methods: [\"*\"]\n"},
		{"empty rule", "denials:\n  - users: [\"x\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := authz.ParsePolicy([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestChecker_LoadMissingFileKeepsPolicy(t *testing.T) {
	c := loadedChecker(t)
	require.Error(t, c.Load(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.True(t, c.Enabled())
}

func peerContext(cn string) context.Context {
	cert := &x509.Certificate{Subject: pkix.Name{CommonName: cn}}
	return peer.NewContext(context.Background(), &peer.Peer{
		AuthInfo: credentials.TLSInfo{State: tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}},
	})
}

func TestPeerUser(t *testing.T) {
	assert.Equal(t, "", authz.PeerUser(context.Background()))
	assert.Equal(t, "controller-prod", authz.PeerUser(peerContext("controller-prod")))
}

func TestUnaryInterceptor(t *testing.T) {
	c := loadedChecker(t)
	intercept := c.UnaryInterceptor()

	called := false
	handler := func(context.Context, any) (any, error) {
		called = true
		return "ok", nil
	}

	_, err := intercept(peerContext("monitor"), nil, &grpc.UnaryServerInfo{FullMethod: "/gnmi.gNMI/Set"}, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.False(t, called)

	resp, err := intercept(peerContext("monitor"), nil, &grpc.UnaryServerInfo{FullMethod: "/gnmi.gNMI/Get"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.True(t, called)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestStreamInterceptor(t *testing.T) {
	c := loadedChecker(t)
	intercept := c.StreamInterceptor()
	handler := func(any, grpc.ServerStream) error { return nil }

	err := intercept(nil, fakeStream{ctx: peerContext("controller-staging")},
		&grpc.StreamServerInfo{FullMethod: "/p4.v1.P4Runtime/StreamChannel"}, handler)
	require.NoError(t, err)

	err = intercept(nil, fakeStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: "/p4.v1.P4Runtime/StreamChannel"}, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
