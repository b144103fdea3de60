package models

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmailType(t *testing.T) {
	tp, err := ParseEmailType("primary")
	require.NoError(t, err)
	assert.Equal(t, EmailTypePrimary, tp)

	_, err = ParseEmailType("tertiary")
	assert.True(t, errors.Is(err, common.ErrInvalidArgument))
}

func TestStageRequest_Validate(t *testing.T) {
	ok := StageRequest{Kind: StagedAddEmail, Email: "a@b.c", ExistingUser: 1, EmailType: EmailTypeSecondary, Secret: "s"}
	require.NoError(t, ok.Validate())

	tests := []struct {
		name string
		req  StageRequest
	}{
		{"bad kind", StageRequest{Kind: "merge", Email: "a@b.c", EmailType: EmailTypeSecondary, Secret: "s"}},
		{"no secret", StageRequest{Kind: StagedNewAccount, Email: "a@b.c", EmailType: EmailTypeSecondary}},
		{"no type", StageRequest{Kind: StagedNewAccount, Email: "a@b.c", Secret: "s"}},
		{"new account with owner", StageRequest{Kind: StagedNewAccount, Email: "a@b.c", ExistingUser: 3, EmailType: EmailTypeSecondary, Secret: "s"}},
		{"reset without owner", StageRequest{Kind: StagedPasswordReset, Email: "a@b.c", EmailType: EmailTypeSecondary, Secret: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.req.Validate(), common.ErrInvalidArgument)
		})
	}
}

func TestStageRequest_Row(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	req := StageRequest{Kind: StagedReverify, Email: "a@b.c", ExistingUser: 9, PasswordHash: "h", EmailType: EmailTypeSecondary, Secret: "s"}
	row := req.Row(now)

	assert.Equal(t, StagedSecret{
		Secret: "s", Kind: StagedReverify, Email: "a@b.c", ExistingUser: 9,
		PasswordHash: "h", EmailType: EmailTypeSecondary, CreatedAt: now,
	}, row)
}
