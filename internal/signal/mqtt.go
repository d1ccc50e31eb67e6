package signal

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/SB-IM/camlink/internal/session"
)

// MQTTSignaler sends offers over MQTT and waits for the answer published to
// the sender's own answer topic.
type MQTTSignaler struct {
	client mqtt.Client
	config MQTTConfigOptions
	id     string
	logger zerolog.Logger
}

// NewMQTTSignaler returns an MQTTSignaler identified by id.
func NewMQTTSignaler(client mqtt.Client, config MQTTConfigOptions, id string, logger *zerolog.Logger) *MQTTSignaler {
	return &MQTTSignaler{
		client: client,
		config: config,
		id:     id,
		logger: logger.With().Str("component", "signal").Str("sender_id", id).Logger(),
	}
}

func answerTopic(prefix, id string) string {
	return prefix + "/" + id
}

// SendOffer publishes offer and blocks until an answer arrived, the configured
// timeout elapsed or ctx is done. No answer in time is session.ErrSignalingUnreachable,
// an answer carrying an error is session.ErrSignalingRejected.
func (s *MQTTSignaler) SendOffer(ctx context.Context, offer session.Description) (session.Description, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	topic := answerTopic(s.config.AnswerTopic, s.id)
	ch := make(chan Envelope, 1)
	var once sync.Once
	t := s.client.Subscribe(topic, byte(s.config.Qos), func(_ mqtt.Client, m mqtt.Message) {
		e, err := DecodeEnvelope(m.Payload())
		if err != nil {
			s.logger.Err(err).Msg("could not decode answer")
			return
		}
		once.Do(func() { ch <- e })
	})
	if err := waitToken(ctx, t); err != nil {
		return session.Description{}, fmt.Errorf("%w: could not subscribe to %s: %v", session.ErrSignalingUnreachable, topic, err)
	}
	defer s.client.Unsubscribe(topic)
	s.logger.Info().Msgf("subscribed to %s", topic)

	payload, err := EncodeEnvelope(Envelope{ID: s.id, Type: offer.Type, SDP: offer.SDP})
	if err != nil {
		return session.Description{}, err
	}
	t = s.client.Publish(s.config.OfferTopic, byte(s.config.Qos), s.config.Retained, payload)
	if err := waitToken(ctx, t); err != nil {
		return session.Description{}, fmt.Errorf("%w: could not publish to %s: %v", session.ErrSignalingUnreachable, s.config.OfferTopic, err)
	}
	s.logger.Info().Msgf("published offer to %s", s.config.OfferTopic)

	select {
	case e := <-ch:
		if e.Error != "" {
			return session.Description{}, fmt.Errorf("%w: %s", session.ErrSignalingRejected, e.Error)
		}
		return e.Description(), nil
	case <-ctx.Done():
		return session.Description{}, fmt.Errorf("%w: no answer: %v", session.ErrSignalingUnreachable, ctx.Err())
	}
}

// AnswerFunc turns a remote offer into the local answer.
type AnswerFunc func(ctx context.Context, senderID string, offer session.Description) (session.Description, error)

// MQTTAnswerer serves offers arriving on the offer topic.
type MQTTAnswerer struct {
	client mqtt.Client
	config MQTTConfigOptions
	answer AnswerFunc
	logger zerolog.Logger
}

// NewMQTTAnswerer returns an MQTTAnswerer calling answer for every offer.
func NewMQTTAnswerer(client mqtt.Client, config MQTTConfigOptions, answer AnswerFunc, logger *zerolog.Logger) *MQTTAnswerer {
	return &MQTTAnswerer{
		client: client,
		config: config,
		answer: answer,
		logger: logger.With().Str("component", "signal").Logger(),
	}
}

// Serve answers offers until ctx is done.
func (a *MQTTAnswerer) Serve(ctx context.Context) error {
	t := a.client.Subscribe(a.config.OfferTopic, byte(a.config.Qos), func(_ mqtt.Client, m mqtt.Message) {
		// Handlers must not block the client.
		go a.handle(ctx, m.Payload())
	})
	if err := waitToken(ctx, t); err != nil {
		return fmt.Errorf("could not subscribe to %s: %w", a.config.OfferTopic, err)
	}
	a.logger.Info().Msgf("subscribed to %s", a.config.OfferTopic)

	<-ctx.Done()
	a.client.Unsubscribe(a.config.OfferTopic)
	return nil
}

func (a *MQTTAnswerer) handle(ctx context.Context, payload []byte) {
	e, err := DecodeEnvelope(payload)
	if err != nil {
		a.logger.Err(err).Msg("could not decode offer")
		return
	}

	reply := Envelope{ID: e.ID}
	answer, err := a.answer(ctx, e.ID, e.Description())
	if err != nil {
		a.logger.Err(err).Str("sender_id", e.ID).Str("category", session.Category(err)).Msg("could not answer offer")
		reply.Error = err.Error()
	} else {
		reply.Type = answer.Type
		reply.SDP = answer.SDP
	}

	out, err := EncodeEnvelope(reply)
	if err != nil {
		a.logger.Err(err).Msg("could not encode answer")
		return
	}
	topic := answerTopic(a.config.AnswerTopic, e.ID)
	t := a.client.Publish(topic, byte(a.config.Qos), a.config.Retained, out)
	go func() {
		<-t.Done()
		if t.Error() != nil {
			a.logger.Err(t.Error()).Msgf("could not publish to %s", topic)
		}
	}()
}

func waitToken(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
