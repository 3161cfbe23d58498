package telemetry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrEmptyTopic is returned for an empty topic or filter.
	ErrEmptyTopic = errors.New("topic is empty")

	// ErrWildcardTopic is returned when a publish topic contains a wildcard.
	ErrWildcardTopic = errors.New("topic must not contain wildcards")
)

// globEscaper escapes glob metacharacters that MQTT treats as literals.
var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
	`{`, `\{`,
	`}`, `\}`,
)

func splitLevels(topic string) []string {
	return strings.Split(topic, "/")
}

// ValidateFilter checks MQTT subscription filter syntax: '+' and '#' must occupy
// a whole level and '#' may only appear last.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	levels := splitLevels(filter)
	for i, l := range levels {
		if strings.Contains(l, "#") {
			if l != "#" || i != len(levels)-1 {
				return fmt.Errorf("invalid '#' wildcard in %q", filter)
			}
		}
		if strings.Contains(l, "+") && l != "+" {
			return fmt.Errorf("invalid '+' wildcard in %q", filter)
		}
	}
	return nil
}

// ValidateTopicName checks that topic can be published to.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrWildcardTopic
	}
	return nil
}

// filterGlob converts an MQTT filter into a doublestar pattern.
func filterGlob(filter string) string {
	levels := splitLevels(filter)
	for i, l := range levels {
		switch l {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = "**"
		default:
			levels[i] = globEscaper.Replace(l)
		}
	}
	return strings.Join(levels, "/")
}

// MatchFilter reports whether topic matches the MQTT filter.
func MatchFilter(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	// "a/#" also matches the parent level "a".
	if parent, ok := strings.CutSuffix(filter, "/#"); ok && topic == parent {
		return true
	}
	if filter == "#" {
		return true
	}
	ok, err := doublestar.Match(filterGlob(filter), topic)
	return err == nil && ok
}

// captureWildcard returns the topic level matched by the first '+' in filter.
func captureWildcard(filter, topic string) (string, bool) {
	fl := splitLevels(filter)
	tl := splitLevels(topic)
	for i, l := range fl {
		if l == "+" && i < len(tl) {
			return tl[i], true
		}
	}
	return "", false
}

// ResolveCommandTopic substitutes deviceID for the '+' level of a command topic.
// A topic without a wildcard is returned as-is.
func ResolveCommandTopic(pattern, deviceID string) (string, error) {
	if err := validateCommandTopic(pattern); err != nil {
		return "", err
	}
	if pattern == "" {
		return "", ErrEmptyTopic
	}
	levels := splitLevels(pattern)
	for i, l := range levels {
		if l == "+" {
			levels[i] = deviceID
		}
	}
	return strings.Join(levels, "/"), nil
}
