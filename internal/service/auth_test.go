package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/boxoffice/internal/clock"
	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/repository/memstore"
	"github.com/iliyamo/boxoffice/internal/utils"
)

func newAuth(t *testing.T) (*AuthService, *clock.Manual) {
	t.Helper()
	s := memstore.New()
	clk := clock.NewManual(time.Now())
	return NewAuthService(s, s, AuthSettings{
		Secret: "jwt-secret", AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour, BcryptCost: 4,
	}, clk, quietLog()), clk
}

func TestAuth_RegisterLogin(t *testing.T) {
	ctx := context.Background()
	a, _ := newAuth(t)

	sess, err := a.Register(ctx, " Vendor@Example.com ", "pw", "vendor")
	require.NoError(t, err)
	assert.Equal(t, "vendor@example.com", sess.User.Email)
	assert.Equal(t, model.RoleVendor, sess.User.Role)
	assert.NotEmpty(t, sess.Refresh.Raw)

	claims, err := utils.ParseAccessToken("jwt-secret", sess.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, claims.Subject)
	assert.Equal(t, model.RoleVendor, claims.Role)

	_, err = a.Register(ctx, "vendor@example.com", "pw", "")
	assert.ErrorIs(t, err, model.ErrEmailExists)

	admin, err := a.Register(ctx, "root@example.com", "pw", "ADMIN")
	require.NoError(t, err)
	assert.Equal(t, model.RoleCustomer, admin.User.Role, "admin cannot self-register")

	_, err = a.Login(ctx, "vendor@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.Login(ctx, "nobody@example.com", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.Login(ctx, "VENDOR@example.com", "pw")
	require.NoError(t, err)
}

func TestAuth_RefreshRotates(t *testing.T) {
	ctx := context.Background()
	a, clk := newAuth(t)
	sess, err := a.Register(ctx, "c@example.com", "pw", "")
	require.NoError(t, err)

	next, err := a.Refresh(ctx, sess.Refresh.Raw)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Refresh.Raw, next.Refresh.Raw)

	_, err = a.Refresh(ctx, sess.Refresh.Raw)
	assert.ErrorIs(t, err, ErrInvalidRefresh, "old token was revoked")

	require.NoError(t, a.Logout(ctx, next.User.ID, ""))
	_, err = a.Refresh(ctx, next.Refresh.Raw)
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	again, err := a.Login(ctx, "c@example.com", "pw")
	require.NoError(t, err)
	clk.Advance(25 * time.Hour)
	_, err = a.Refresh(ctx, again.Refresh.Raw)
	assert.ErrorIs(t, err, ErrInvalidRefresh, "expired")
}

func TestAuth_EnsureAdmin(t *testing.T) {
	ctx := context.Background()
	a, _ := newAuth(t)

	require.NoError(t, a.EnsureAdmin(ctx, "", ""))
	require.NoError(t, a.EnsureAdmin(ctx, "ops@example.com", "pw"))
	require.NoError(t, a.EnsureAdmin(ctx, "ops@example.com", "pw"))

	sess, err := a.Login(ctx, "ops@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, sess.User.Role)
}

func TestAuth_RegisterRejectsOverlongPassword(t *testing.T) {
	a, _ := newAuth(t)
	_, err := a.Register(context.Background(), "long@example.com", strings.Repeat("x", 80), "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
