package hashpw

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more input")
		}
		a := answers[0]
		answers = answers[1:]
		return []byte(a), nil
	}
}

func TestRun_Terminal(t *testing.T) {
	stubPasswords(t, "correct horse", "correct horse")
	var out, errOut bytes.Buffer

	require.NoError(t, Run([]string{"--cost", "4"}, nil, &out, &errOut))

	hash := strings.TrimSpace(out.String())
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse")))
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, 4, cost)
	assert.Contains(t, errOut.String(), "Repeat password: ")
}

func TestRun_Mismatch(t *testing.T) {
	stubPasswords(t, "correct horse", "battery staple")
	var out bytes.Buffer

	err := Run([]string{"--cost", "4"}, nil, &out, &bytes.Buffer{})
	assert.ErrorIs(t, err, errMismatch)
	assert.Empty(t, out.String())
}

func TestRun_Stdin(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Run([]string{"--stdin", "--cost=4"}, strings.NewReader("battery staple\n"), &out, &bytes.Buffer{}))

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("battery staple")))
}

func TestRun_Errors(t *testing.T) {
	err := Run([]string{"--stdin"}, strings.NewReader("short\n"), &bytes.Buffer{}, &bytes.Buffer{})
	assert.Error(t, err, "too short for the password policy")

	err = Run([]string{"--stdin"}, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	assert.Error(t, err)

	err = Run([]string{"--no-such-flag"}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	assert.Error(t, err)
}
