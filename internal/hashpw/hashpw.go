// Package hashpw implements the gophid-hashpw tool, which prints a bcrypt
// hash suitable for seeding or repairing an account password.
package hashpw

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/gophid/internal/server/credentials"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errMismatch = errors.New("passwords do not match")

// Run parses args, reads the password and writes its hash to stdout.
// Prompts go to stderr so the hash can be piped.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("gophid-hashpw", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	cost := fs.Int("cost", 12, "bcrypt cost")
	fromStdin := fs.Bool("stdin", false, "read the password from the first line of stdin instead of the terminal")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		pw  string
		err error
	)
	if *fromStdin {
		pw, err = readLine(stdin)
	} else {
		pw, err = promptTwice(stderr)
	}
	if err != nil {
		return err
	}

	hash, err := credentials.NewBcrypt(*cost).Hash(pw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func prompt(w io.Writer, text string) (string, error) {
	if _, err := fmt.Fprint(w, text); err != nil {
		return "", err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

func promptTwice(w io.Writer) (string, error) {
	first, err := prompt(w, "Password: ")
	if err != nil {
		return "", err
	}
	second, err := prompt(w, "Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errMismatch
	}
	return first, nil
}
