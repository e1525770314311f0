package ffmpeg

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidExtraArgs is returned when user supplied output arguments are
// rejected.
var ErrInvalidExtraArgs = errors.New("invalid extra ffmpeg arguments")

// shellPatterns indicate the string was written for a shell. Arguments are
// passed to exec directly, so these never do what the user expects.
var shellPatterns = []struct {
	pattern *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`\$\(`), "command substitution $(...)"},
	{regexp.MustCompile("`"), "backtick command substitution"},
	{regexp.MustCompile(`\$\{?[A-Za-z_]`), "variable expansion"},
	{regexp.MustCompile(`;`), "command separator (;)"},
	{regexp.MustCompile(`&&`), "command chaining (&&)"},
	{regexp.MustCompile(`[<>]`), "redirection"},
}

// blockedFlags are controlled by the encoder command itself.
var blockedFlags = map[string]string{
	"-i":             "input is always stdin",
	"-y":             "overwrite is always enabled",
	"-n":             "overwrite is always enabled",
	"-f":             "container is set by the writer configuration",
	"-s":             "frame size comes from the stream",
	"-s:v":           "frame size comes from the stream",
	"-framerate":     "frame rate comes from the stream",
	"-filter_script": "could load arbitrary script files",
}

// ValidateExtraArgs checks a user supplied output option string and returns
// the parsed arguments.
func ValidateExtraArgs(extra string) ([]string, error) {
	if strings.TrimSpace(extra) == "" {
		return nil, nil
	}

	for _, sp := range shellPatterns {
		if sp.pattern.MatchString(extra) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidExtraArgs, sp.message)
		}
	}
	if containsShellPipe(extra) {
		return nil, fmt.Errorf("%w: shell pipe (|)", ErrInvalidExtraArgs)
	}
	if msg := checkQuoteBalance(extra); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidExtraArgs, msg)
	}

	args := parseOptionsString(extra)
	for _, arg := range args {
		if reason, blocked := blockedFlags[arg]; blocked {
			return nil, fmt.Errorf("%w: %s (%s)", ErrInvalidExtraArgs, arg, reason)
		}
	}
	return args, nil
}

// containsShellPipe reports a single '|'. Doubled pipes appear in filter
// expressions and are allowed.
func containsShellPipe(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '|' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '|' {
			i++
			continue
		}
		return true
	}
	return false
}

func checkQuoteBalance(s string) string {
	single, double := 0, 0
	escaped := false

	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '\'':
			single++
		case '"':
			double++
		}
	}

	if single%2 != 0 {
		return "unbalanced single quotes"
	}
	if double%2 != 0 {
		return "unbalanced double quotes"
	}
	return ""
}
