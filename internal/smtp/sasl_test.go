package smtp

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/metrics"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestAUTH(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		follow   []string
		code     int
		prompts  []string
		username string
	}{
		{
			name:     "PLAIN initial response",
			line:     "AUTH PLAIN " + b64("\x00alice@example.com\x00wonderland"),
			code:     235,
			username: "alice@example.com",
		},
		{
			name:     "PLAIN with matching identity",
			line:     "AUTH PLAIN " + b64("bob\x00bob\x00bobpw"),
			code:     235,
			username: "bob",
		},
		{
			name: "PLAIN with foreign identity",
			line: "AUTH PLAIN " + b64("alice@example.com\x00bob\x00bobpw"),
			code: 535,
		},
		{
			name:     "PLAIN after empty challenge",
			line:     "AUTH PLAIN",
			follow:   []string{b64("\x00bob\x00bobpw")},
			code:     235,
			prompts:  []string{"334 "},
			username: "bob",
		},
		{
			name: "PLAIN wrong password",
			line: "AUTH PLAIN " + b64("\x00bob\x00nope"),
			code: 535,
		},
		{
			name: "PLAIN malformed token",
			line: "AUTH PLAIN " + b64("bob-bobpw"),
			code: 501,
		},
		{
			name:     "LOGIN",
			line:     "AUTH LOGIN",
			follow:   []string{b64("bob"), b64("bobpw")},
			code:     235,
			prompts:  []string{"334 " + b64("Username:"), "334 " + b64("Password:")},
			username: "bob",
		},
		{
			name:     "LOGIN with initial username",
			line:     "auth login " + b64("bob"),
			follow:   []string{b64("bobpw")},
			code:     235,
			prompts:  []string{"334 " + b64("Password:")},
			username: "bob",
		},
		{
			name:    "LOGIN wrong password",
			line:    "AUTH LOGIN",
			follow:  []string{b64("bob"), b64("wrong")},
			code:    535,
			prompts: []string{"334 " + b64("Username:"), "334 " + b64("Password:")},
		},
		{
			name:    "cancelled",
			line:    "AUTH LOGIN",
			follow:  []string{"*"},
			code:    501,
			prompts: []string{"334 " + b64("Username:")},
		},
		{
			name:    "bad base64 response",
			line:    "AUTH LOGIN",
			follow:  []string{"!!!"},
			code:    501,
			prompts: []string{"334 " + b64("Username:")},
		},
		{
			name: "bad base64 initial response",
			line: "AUTH PLAIN !!!",
			code: 501,
		},
		{
			name: "unsupported mechanism",
			line: "AUTH CRAM-MD5",
			code: 504,
		},
		{
			name: "missing mechanism",
			line: "AUTH",
			code: 501,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			sess := greetedSession(defaultLimits())

			reply, conn := f.exec(t, sess, tt.line, tt.follow...)

			assert.Equal(t, tt.code, reply.Code)
			assert.Equal(t, tt.prompts, conn.written)
			assert.Equal(t, tt.code == 235, sess.IsAuthenticated())
			if tt.code == 235 {
				assert.Equal(t, tt.username, sess.Username())
			}
		})
	}
}

func TestAUTHBeforeGreeting(t *testing.T) {
	f := newFixture()
	sess := NewSession("mx.example.com", defaultLimits())

	reply, _ := f.exec(t, sess, "AUTH PLAIN "+b64("\x00bob\x00bobpw"))

	assert.Equal(t, 235, reply.Code)
	assert.Equal(t, StateInit, sess.State())
}

func TestAUTHProviderUnavailable(t *testing.T) {
	f := newFixture()
	f.auth.err = errors.New("dial tcp: connection refused")
	sess := greetedSession(defaultLimits())

	reply, _ := f.exec(t, sess, "AUTH PLAIN "+b64("\x00bob\x00bobpw"))

	assert.Equal(t, 454, reply.Code)
	assert.False(t, sess.IsAuthenticated())
}

func TestAUTHRemoteProviderEmptyUsername(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := auth.NewGRPCServer(auth.NewGRPCService(newStubAuth(), nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	remote, err := auth.DialRemote("passthrough:///bufnet", 2*time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })

	f := newFixture()
	RegisterAuthCommands(f.cmds, remote, &metrics.NoopCollector{})
	sess := greetedSession(defaultLimits())

	reply, _ := f.exec(t, sess, "AUTH PLAIN "+b64("\x00\x00pw"))
	assert.Equal(t, 535, reply.Code)

	reply, _ = f.exec(t, sess, "AUTH PLAIN "+b64("\x00bob\x00bobpw"))
	assert.Equal(t, 235, reply.Code)
}

func TestAUTHTwice(t *testing.T) {
	f := newFixture()
	sess := greetedSession(defaultLimits())

	reply, _ := f.exec(t, sess, "AUTH PLAIN "+b64("\x00bob\x00bobpw"))
	require.Equal(t, 235, reply.Code)

	reply, _ = f.exec(t, sess, "AUTH PLAIN "+b64("\x00bob\x00bobpw"))
	assert.Equal(t, 503, reply.Code)
	assert.Equal(t, 1, f.auth.calls)
}

func TestAUTHDuringTransaction(t *testing.T) {
	f := newFixture()
	sess := transaction("bob@example.com")

	reply, _ := f.exec(t, sess, "AUTH PLAIN "+b64("\x00bob\x00bobpw"))

	assert.Equal(t, 503, reply.Code)
	assert.Zero(t, f.auth.calls)
}

func TestAUTHTransportFailure(t *testing.T) {
	f := newFixture()
	sess := greetedSession(defaultLimits())
	cmd, _ := f.cmds.Get("AUTH")

	reply, err := cmd.Execute(context.Background(), sess, newScriptConn(), "LOGIN")

	require.Error(t, err)
	assert.Equal(t, 421, reply.Code)
	assert.False(t, sess.IsAuthenticated())
}

func TestLoginServerRejectsExtraResponses(t *testing.T) {
	srv := newLoginServer(func(username, password string) error { return nil })

	_, done, err := srv.Next(nil)
	require.NoError(t, err)
	require.False(t, done)
	_, _, err = srv.Next([]byte("bob"))
	require.NoError(t, err)
	_, done, err = srv.Next([]byte("pw"))
	require.NoError(t, err)
	require.True(t, done)

	_, _, err = srv.Next([]byte("again"))
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}
