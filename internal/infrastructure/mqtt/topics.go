package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTopicLength is the MQTT limit on an encoded topic string.
const maxTopicLength = 65535

// TopicPrefixSensor is the base of every sensor reading topic.
const TopicPrefixSensor = "tk/sensor"

// Topics provides builders for sensor topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.Sensor("logger1", "sandfang")
//	// Returns: "tk/sensor/logger1/sandfang"
type Topics struct{}

// Sensor returns the topic a logger publishes one sensor's readings on.
//
// Example: tk/sensor/logger1/waterlevel
func (Topics) Sensor(logger, sensor string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixSensor, logger, sensor)
}

// ValidateTopicFilter checks a subscription filter against the MQTT 3.1.1
// rules: non-empty, valid UTF-8 without NUL, at most 65535 bytes, '+' and
// '#' occupying a whole level, and '#' only as the last level.
//
// Returns:
//   - error: ErrInvalidTopicFilter (wrapped) describing the first violation
func ValidateTopicFilter(filter string) error {
	if err := validateTopicString(filter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopicFilter, err)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") {
			if level != "#" {
				return fmt.Errorf("%w: '#' must occupy a whole level in %q", ErrInvalidTopicFilter, filter)
			}
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopicFilter, filter)
			}
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTopicFilter, filter)
		}
	}

	return nil
}

// ValidateTopicName checks a concrete topic used for publishing.
func ValidateTopicName(topic string) error {
	if err := validateTopicString(topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards are not allowed in %q", ErrInvalidTopic, topic)
	}
	return nil
}

func validateTopicString(s string) error {
	switch {
	case s == "":
		return errors.New("topic cannot be empty")
	case len(s) > maxTopicLength:
		return fmt.Errorf("topic length %d exceeds %d bytes", len(s), maxTopicLength)
	case !utf8.ValidString(s):
		return errors.New("topic is not valid UTF-8")
	case strings.ContainsRune(s, 0):
		return errors.New("topic contains NUL")
	}
	return nil
}

// MatchTopic reports whether topic is matched by filter. Both are assumed
// valid. Topics beginning with '$' are not matched by a leading wildcard.
func MatchTopic(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}

	return len(f) == len(t)
}
