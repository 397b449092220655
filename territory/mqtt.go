package territory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// FixMaxAge is how old the last received fix may be for CurrentFix to return it.
const FixMaxAge = 2 * time.Minute

// MQTTClient manages the MQTT connection and the per-player location feeds.
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	feeds       map[string]*playerFeed // by player ID
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// If neither MQTT_BROKER nor the config names a broker, MQTT is disabled and
// this returns nil.
func InitMQTT(config *Config) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Players) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no players configured")
	}

	client := NewMQTTClient(nil, config)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "turfwar"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Fixes must reach a session in the order the phone sent them
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// NewMQTTClient wraps an existing mqtt.Client. InitMQTT uses it with a real
// paho client; tests pass a MockClient and call SubscribePlayers themselves.
func NewMQTTClient(c mqtt.Client, config *Config) *MQTTClient {
	m := &MQTTClient{
		client: c,
		config: config,
		feeds:  make(map[string]*playerFeed),
	}
	if config != nil {
		for _, p := range config.Players {
			m.feeds[p.ID] = &playerFeed{id: p.ID, topic: p.Topic, handlers: make(map[int]FixHandler)}
		}
	}
	return m
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("[MQTT] connected, subscribing to player topics...")
	c.setConnected(true)
	c.subscribePlayers(client)
}

// SubscribePlayers subscribes to every configured player's location topic.
func (c *MQTTClient) SubscribePlayers() {
	c.subscribePlayers(c.client)
}

func (c *MQTTClient) subscribePlayers(client mqtt.Client) {
	for _, player := range c.config.Players {
		feed := c.feeds[player.ID]
		if feed == nil || player.Topic == "" {
			log.Printf("[MQTT] warning: player %s has no topic configured", player.ID)
			continue
		}

		token := client.Subscribe(player.Topic, 0, c.createMessageHandler(feed))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", player.Topic, token.Error())
		} else {
			log.Printf("[MQTT] subscribed to %s for player %s", player.Topic, player.ID)
		}
	}
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically a transient event.
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

func (c *MQTTClient) createMessageHandler(feed *playerFeed) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		fix, ok, err := ParseOwnTracks(msg.Payload())
		if err != nil {
			log.Printf("[MQTT] bad location payload for %s on %s: %v", feed.id, msg.Topic(), err)
			return
		}
		if !ok {
			return
		}
		feed.deliver(fix)
	}
}

// Provider returns the location provider for a configured player.
func (c *MQTTClient) Provider(playerID string) (LocationProvider, error) {
	feed, ok := c.feeds[playerID]
	if !ok {
		return nil, fmt.Errorf("player %s is not configured", playerID)
	}
	return feed, nil
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// playerFeed fans one player's fixes out to the active session and keeps
// the latest one for CurrentFix.
type playerFeed struct {
	id    string
	topic string

	mu         sync.Mutex
	last       RawFix
	receivedAt time.Time
	hasFix     bool
	handlers   map[int]FixHandler
	nextID     int

	// held while handlers run, so Unsubscribe waits for an in-flight delivery
	dispatch sync.Mutex
	now      func() time.Time
}

func (f *playerFeed) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

func (f *playerFeed) deliver(fix RawFix) {
	f.dispatch.Lock()
	defer f.dispatch.Unlock()

	f.mu.Lock()
	f.last, f.receivedAt, f.hasFix = fix, f.clock(), true
	handlers := make([]FixHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(fix)
	}
}

// Subscribe registers handler for the player's fixes.
func (f *playerFeed) Subscribe(handler FixHandler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = handler
	return &feedSubscription{feed: f, id: id}, nil
}

// CurrentFix returns the last fix received within FixMaxAge.
func (f *playerFeed) CurrentFix(ctx context.Context) (RawFix, error) {
	if err := ctx.Err(); err != nil {
		return RawFix{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasFix || f.clock().Sub(f.receivedAt) > FixMaxAge {
		return RawFix{}, ErrNoFix
	}
	return f.last, nil
}

type feedSubscription struct {
	feed *playerFeed
	id   int
	once sync.Once
}

func (s *feedSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.dispatch.Lock()
		defer s.feed.dispatch.Unlock()
		s.feed.mu.Lock()
		delete(s.feed.handlers, s.id)
		s.feed.mu.Unlock()
	})
}

// ownTracksLocation is the subset of the OwnTracks location message we use.
type ownTracksLocation struct {
	Type string   `json:"_type"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
	Acc  *float64 `json:"acc"`
	Cog  *float64 `json:"cog"`
	Tst  int64    `json:"tst"`
}

// ParseOwnTracks decodes an OwnTracks JSON message. ok is false for messages
// that are not locations (waypoints, transitions, lwt).
func ParseOwnTracks(payload []byte) (fix RawFix, ok bool, err error) {
	var msg ownTracksLocation
	if err := json.Unmarshal(payload, &msg); err != nil {
		return RawFix{}, false, fmt.Errorf("decoding location JSON: %w", err)
	}
	if msg.Type != "" && msg.Type != "location" {
		return RawFix{}, false, nil
	}
	if msg.Lat == nil || msg.Lon == nil {
		return RawFix{}, false, fmt.Errorf("location without lat/lon")
	}

	fix = NewRawFix(*msg.Lat, *msg.Lon)
	if msg.Acc != nil && *msg.Acc >= 0 {
		fix.Accuracy = *msg.Acc
	}
	if msg.Cog != nil && *msg.Cog >= 0 {
		fix.Heading = math.Mod(*msg.Cog, 360)
	}
	if msg.Tst > 0 {
		fix.Timestamp = time.Unix(msg.Tst, 0).UTC()
	} else {
		fix.Timestamp = time.Now().UTC()
	}
	return fix, true, nil
}
