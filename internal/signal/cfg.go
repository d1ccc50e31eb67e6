package signal

import "time"

// HTTPConfigOptions configures the HTTP offer client.
type HTTPConfigOptions struct {
	// URL is the remote /offer endpoint.
	URL     string
	Timeout time.Duration
}

// MQTTConfigOptions configures the MQTT offer/answer exchange.
type MQTTConfigOptions struct {
	OfferTopic  string
	AnswerTopic string // Answers are published to AnswerTopic/<sender id>.
	Qos         uint
	Retained    bool
	// Timeout bounds the wait for an answer.
	Timeout time.Duration
}
