package resilience

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsAuthError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit auth error", NewAuthError(eris.New("bad creds"), 0), true},
		{"401 status", NewTransientError(eris.New("request rejected"), 401), true},
		{"403 status", NewTransientError(eris.New("request rejected"), 403), true},
		{"500 status", NewTransientError(eris.New("server broke"), 500), false},
		{"authentication failed message", eris.New("authentication failed"), true},
		{"invalid_grant", eris.New("oauth2: invalid_grant"), true},
		{"token has been revoked", eris.New("Token has been revoked by user"), true},
		{"token expired", eris.New("token expired at 2026-01-01"), true},
		{"refresh token", eris.New("refresh token is missing"), true},
		{"insufficient permissions", eris.New("insufficient permissions for scope"), true},
		{"author is not auth", eris.New("The author of this book is unknown"), false},
		{"authority is not auth", eris.New("certificate authority rejected"), false},
		{"rate limit", eris.New("Rate limit exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsAuthError(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", NewTransientError(eris.New("timeout"), 503), true},
		{"connection reset message", eris.New("read tcp: connection reset by peer"), true},
		{"i/o timeout message", eris.New("dial tcp: i/o timeout"), true},
		{"plain error", eris.New("validation failed"), false},
		{"permanent wrapper wins", Permanent(NewTransientError(eris.New("timeout"), 503)), false},
		{"auth error never transient", NewAuthError(eris.New("unauthorized"), 401), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPermanent(Permanent(eris.New("no such inbox"))))
	assert.False(t, IsPermanent(eris.New("no such inbox")))

	// Wrapped deeper in a chain.
	wrapped := eris.Wrap(Permanent(eris.New("inner")), "outer")
	assert.True(t, IsPermanent(wrapped))
}

func TestIsTransientSMTPStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{421, 450, 451, 452} {
		assert.True(t, IsTransientSMTPStatus(code), "code %d", code)
	}
	for _, code := range []int{250, 550, 553, 554} {
		assert.False(t, IsTransientSMTPStatus(code), "code %d", code)
	}
}
