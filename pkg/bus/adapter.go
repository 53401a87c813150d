package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const connectTimeout = 10 * time.Second

// ErrNotConnected indicates the adapter has no live broker connection.
var ErrNotConnected = errors.New("not connected to mqtt broker")

// Command is one inbound bus command, resolved from its topic.
type Command struct {
	Component string
	ObjectID  string
	Payload   string
}

// CommandHandler consumes inbound bus commands.
type CommandHandler func(cmd Command)

// Publisher is the state-publication surface the rest of the gateway
// depends on. Adapter implements it against a live broker; tests use fakes.
type Publisher interface {
	PublishState(entityID string, value any) error
	PublishRaw(topic string, payload []byte, retain bool) error
	FireEvent(eventType string, data map[string]any) error
}

// Adapter wraps the MQTT client. Inbound messages arrive on the paho
// callback thread and are handed into a channel drained by the adapter's
// own goroutine, so handlers always run off the broker thread.
type Adapter struct {
	client   mqtt.Client
	commands chan Command
	done     chan struct{}
}

// NewAdapter creates an adapter for the broker at host:port.
func NewAdapter(host string, port int, username, password string) *Adapter {
	a := &Adapter{
		commands: make(chan Command, 64),
		done:     make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID(NodeID + "_integration").
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("Disconnected from MQTT broker")
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.Info().Msg("Connected to MQTT broker")
		})
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	a.client = mqtt.NewClient(opts)
	return a
}

// Connect establishes the broker connection, waiting at most ten seconds.
func (a *Adapter) Connect() error {
	token := a.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%w: connect timeout", ErrNotConnected)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Disconnect publishes the offline state and closes the connection.
func (a *Adapter) Disconnect() {
	if err := a.PublishState("binary_sensor/connected", "OFF"); err != nil {
		log.Warn().Err(err).Msg("Failed to publish offline state")
	}
	close(a.done)
	a.client.Disconnect(250)
	log.Info().Msg("Disconnected from MQTT broker")
}

func (a *Adapter) publish(topic string, payload any, retain bool) error {
	if !a.client.IsConnected() {
		return ErrNotConnected
	}

	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		data = encoded
	}

	token := a.client.Publish(topic, 0, retain, data)
	token.Wait()
	return token.Error()
}

// RegisterEntities publishes the retained discovery config for every
// entity and event type. Idempotent; safe on every startup.
func (a *Adapter) RegisterEntities() error {
	entities := Entities()
	for _, e := range entities {
		topic := DiscoveryTopic(e.Component, e.ObjectID)
		if err := a.publish(topic, e.Config, true); err != nil {
			return fmt.Errorf("registering %s: %w", e.ID(), err)
		}
		log.Debug().Str("entity", e.ID()).Msg("Registered entity")
	}

	events := Events()
	for _, ev := range events {
		if err := a.publish(EventDiscoveryTopic(ev.Type), ev.Config, true); err != nil {
			return fmt.Errorf("registering event %s: %w", ev.Type, err)
		}
	}

	log.Info().Int("entities", len(entities)).Int("events", len(events)).Msg("Discovery registration complete")
	return nil
}

// PublishInitialStates publishes the default state of every stateful entity.
func (a *Adapter) PublishInitialStates() {
	count := 0
	for _, e := range Entities() {
		if _, hasState := e.Config["state_topic"]; !hasState {
			continue
		}
		if err := a.PublishState(e.ID(), e.InitialState); err != nil {
			log.Warn().Err(err).Str("entity", e.ID()).Msg("Failed to publish initial state")
			continue
		}
		count++
	}
	log.Info().Int("count", count).Msg("Published initial states")
}

// PublishState publishes a retained state update for "component/object".
// Map values are JSON-encoded, everything else is stringified.
func (a *Adapter) PublishState(entityID string, value any) error {
	component, objectID, ok := strings.Cut(entityID, "/")
	if !ok {
		return fmt.Errorf("invalid entity id %q", entityID)
	}

	var payload any
	switch value.(type) {
	case map[string]any, []byte, string:
		payload = value
	default:
		payload = fmt.Sprint(value)
	}

	err := a.publish(StateTopic(component, objectID), payload, true)
	if err != nil {
		return err
	}
	log.Debug().Str("entity", entityID).Msg("Published state")
	return nil
}

// PublishRaw publishes arbitrary bytes to a topic, used for image frames.
func (a *Adapter) PublishRaw(topic string, payload []byte, retain bool) error {
	return a.publish(topic, payload, retain)
}

// FireEvent publishes a non-retained event with event_type merged in.
func (a *Adapter) FireEvent(eventType string, data map[string]any) error {
	payload := map[string]any{"event_type": eventType}
	for k, v := range data {
		payload[k] = v
	}
	if err := a.publish(EventStateTopic(eventType), payload, false); err != nil {
		return err
	}
	log.Info().Str("event", eventType).Msg("Fired event")
	return nil
}

// SubscribeCommands subscribes to every command topic and invokes handler
// for each inbound message. The handler runs on the adapter's drain
// goroutine, never on the broker callback thread.
func (a *Adapter) SubscribeCommands(handler CommandHandler) error {
	go func() {
		for {
			select {
			case cmd := <-a.commands:
				handler(cmd)
			case <-a.done:
				return
			}
		}
	}()

	token := a.client.Subscribe(CommandSubscription(), 0, func(_ mqtt.Client, msg mqtt.Message) {
		cmd, ok := parseCommandTopic(msg.Topic(), string(msg.Payload()))
		if !ok {
			log.Debug().Str("topic", msg.Topic()).Msg("Ignoring unparseable command topic")
			return
		}
		select {
		case a.commands <- cmd:
		case <-a.done:
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	log.Info().Str("filter", CommandSubscription()).Msg("Subscribed to command topics")
	return nil
}

// parseCommandTopic resolves component and object id from a
// "<node>/<component>/<object>/set" topic.
func parseCommandTopic(topic, payload string) (Command, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != NodeID || parts[3] != "set" {
		return Command{}, false
	}
	return Command{Component: parts[1], ObjectID: parts[2], Payload: payload}, true
}
