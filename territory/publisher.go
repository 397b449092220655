package territory

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher announces new conquests and conflicts over MQTT.
//
// Topics:
//
//	<prefix>/conquests/<ownerId>   one message per conquest
//	<prefix>/conflicts/<victimId>  one message per conflict
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
}

// NewPublisher creates an event publisher. The prefix comes from
// MQTT_PUBLISH_PREFIX, then prefix, then "turfwar".
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "turfwar"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        false,
	}
}

// conquestEvent is the wire form of a conquest. Path is [[lat, lng], ...].
type conquestEvent struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"ownerId"`
	Mode      CaptureMode  `json:"mode"`
	Area      int64        `json:"area"`
	Distance  float64      `json:"distance"`
	Duration  *int64       `json:"duration,omitempty"`
	Path      [][2]float64 `json:"path"`
	CreatedAt int64        `json:"createdAt"`
}

type conflictEvent struct {
	ID               string  `json:"id"`
	InvaderID        string  `json:"invaderId"`
	VictimID         string  `json:"victimId"`
	ConquestID       string  `json:"conquestId"`
	VictimConquestID string  `json:"victimConquestId,omitempty"`
	AreaInvaded      int64   `json:"areaInvaded"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Label            string  `json:"label,omitempty"`
	Timestamp        int64   `json:"timestamp"`
}

// ConquestCreated publishes a conquest to its owner's topic.
func (p *Publisher) ConquestCreated(c Conquest) error {
	ev := conquestEvent{
		ID:        c.ID,
		OwnerID:   c.OwnerID,
		Mode:      c.Mode,
		Area:      c.Area,
		Distance:  c.Distance,
		Duration:  c.Duration,
		Path:      pairs(c.Path),
		CreatedAt: c.CreatedAt.Unix(),
	}
	return p.publish(fmt.Sprintf("%s/conquests/%s", p.publishPrefix, c.OwnerID), ev)
}

// ConflictsDetected publishes every conflict to its victim's topic. It keeps
// going after a failure and returns the first error.
func (p *Publisher) ConflictsDetected(conflicts []TerritoryConflict) error {
	var first error
	for _, c := range conflicts {
		ev := conflictEvent{
			ID:               c.ID,
			InvaderID:        c.InvaderID,
			VictimID:         c.VictimID,
			ConquestID:       c.ConquestID,
			VictimConquestID: c.VictimConquestID,
			AreaInvaded:      c.AreaInvaded,
			Label:            c.Label,
			Timestamp:        c.CreatedAt.Unix(),
		}
		if c.Location != nil {
			ev.Latitude, ev.Longitude = c.Location.Lat, c.Location.Lng
		}
		err := p.publish(fmt.Sprintf("%s/conflicts/%s", p.publishPrefix, c.VictimID), ev)
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *Publisher) publish(topic string, v interface{}) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	log.Printf("[MQTT] published %d bytes to %s", len(payload), topic)
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

func pairs(points []GeoPoint) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = [2]float64{p.Lat, p.Lng}
	}
	return out
}
