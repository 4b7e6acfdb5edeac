package signal

import (
	"encoding/json"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("signal")

// Bus is the external pub/sub channel the transport rides on. The concrete
// implementation lives in internal/p2p; tests use an in-memory bus.
type Bus interface {
	Publish(topic string, data []byte) error
	Subscribe(topic string) (msgs <-chan []byte, cancel func(), err error)
}

// Transport sends and receives signaling envelopes scoped to a call ID.
// Signals are not guaranteed delivery: no retry, no ack. A failed publish is
// logged and dropped — ICE gathering typically produces more candidates, so
// the connection gets other chances to succeed.
type Transport struct {
	bus    Bus
	selfID string
}

// NewTransport creates a transport for the local participant identity.
func NewTransport(bus Bus, selfID string) *Transport {
	return &Transport{bus: bus, selfID: selfID}
}

// SelfID returns the local participant identifier stamped on outbound envelopes.
func (t *Transport) SelfID() string { return t.selfID }

// Send publishes one envelope on the call's topic. The sender field is
// stamped here so callers never forge identities.
func (t *Transport) Send(env *Envelope) error {
	env.From = t.selfID
	if err := env.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("signal: marshal %s envelope: %w", env.Kind, err)
	}
	if err := t.bus.Publish(topicFor(env.CallID), data); err != nil {
		log.Warnf("publish %s on call %s failed: %v", env.Kind, env.CallID, err)
		return fmt.Errorf("signal: publish %s: %w", env.Kind, err)
	}
	return nil
}

// Subscribe delivers every envelope published on the call's topic, including
// self-sent ones — callers filter by sender. The returned cancel func must be
// part of the owning session's teardown path.
func (t *Transport) Subscribe(callID string, onSignal func(*Envelope)) (cancel func(), err error) {
	msgs, stop, err := t.bus.Subscribe(topicFor(callID))
	if err != nil {
		return nil, fmt.Errorf("signal: subscribe call %s: %w", callID, err)
	}

	go func() {
		for data := range msgs {
			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Warnf("call %s: dropping malformed envelope: %v", callID, err)
				continue
			}
			if err := env.Validate(); err != nil {
				log.Warnf("call %s: dropping invalid envelope: %v", callID, err)
				continue
			}
			if env.CallID != callID {
				continue
			}
			onSignal(&env)
		}
	}()

	return stop, nil
}

// topicFor maps a call identifier to its bus topic.
func topicFor(callID string) string {
	return "call/" + callID
}
