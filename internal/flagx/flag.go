// Package flagx contains small command-line helpers shared by the binaries.
package flagx

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// ConfigPath extracts the JSON config file path given with -c or --config.
// Every other argument is ignored so callers can parse their own flags later
// without interference. An empty string means no file was requested.
func ConfigPath(args []string) string {
	var path string

	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.StringVarP(&path, "config", "c", "", "path to config file")
	_ = fs.Parse(args)

	return path
}

// ParsePairs turns a list of "key=value" entries into a map. Keys are
// lower-cased; an entry without '=' or with an empty side is an error.
func ParsePairs(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		k, v, ok := strings.Cut(e, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid pair %q, want key=value", e)
		}
		out[k] = v
	}
	return out, nil
}
