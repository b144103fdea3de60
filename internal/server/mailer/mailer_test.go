package mailer

import (
	"bytes"
	"context"
	"testing"

	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLink(t *testing.T) {
	tests := []struct {
		kind models.StagedKind
		want string
	}{
		{models.StagedNewAccount, "https://login.example/verify_email_address?token=abc"},
		{models.StagedAddEmail, "https://login.example/confirm?token=abc"},
		{models.StagedPasswordReset, "https://login.example/reset_password?token=abc"},
		{models.StagedTransition, "https://login.example/complete_transition?token=abc"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := Link("https://login.example", Message{Kind: tt.kind, Secret: "abc"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Link("https://login.example", Message{Kind: "bogus", Secret: "abc"})
	assert.Error(t, err)
}

func TestLogMailer_Send(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer("https://login.example", logging.NewJSON(&buf, "info"))

	err := m.Send(context.Background(), Message{Kind: models.StagedPasswordReset, To: "a@x.com", Secret: "s3", Site: "https://rp.example"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"to":"a@x.com"`)
	assert.Contains(t, out, "reset_password?token=s3")
	assert.Contains(t, out, `"module":"mailer"`)
}
