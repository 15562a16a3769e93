package bus

import (
	"net/url"
	"strings"
)

// subjectEscaper percent-encodes the characters that carry meaning in NATS
// subjects and AMQP routing keys. "%" itself is escaped so distinct
// segments never share a subject token.
var subjectEscaper = strings.NewReplacer(
	"%", "%25",
	".", "%2E",
	" ", "%20",
	"\t", "%09",
	"\r", "%0D",
	"\n", "%0A",
	"*", "%2A",
	">", "%3E",
	"#", "%23",
)

var mqttEscaper = strings.NewReplacer("%", "%25", "+", "%2B", "#", "%23")

// SubjectFor maps a "/"-separated notification topic to a "."-separated
// subject under prefix. Empty segments are dropped.
func SubjectFor(topic, prefix string) string {
	parts := make([]string, 0, 8)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	for _, seg := range strings.Split(topic, "/") {
		if seg == "" {
			continue
		}
		parts = append(parts, subjectEscaper.Replace(seg))
	}
	return strings.Join(parts, ".")
}

// TopicFor is the inverse of SubjectFor. Tokens that are not valid escapes
// are kept as they are.
func TopicFor(subject, prefix string) string {
	if prefix != "" {
		subject = strings.TrimPrefix(strings.TrimPrefix(subject, prefix), ".")
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		if seg, err := url.PathUnescape(tok); err == nil {
			tokens[i] = seg
		}
	}
	return strings.Join(tokens, "/")
}

// MQTTTopic places topic under prefix. MQTT wildcards in segments are
// percent-encoded.
func MQTTTopic(topic, prefix string) string {
	topic = mqttEscaper.Replace(strings.Trim(topic, "/"))
	if prefix == "" {
		return topic
	}
	return strings.TrimSuffix(prefix, "/") + "/" + topic
}
