//go:build !no_mqtt

package mqtt

import (
	"strings"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/datalink_watch/status/config"
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// nodeID turns the topic prefix into an identifier safe for discovery
// topics.
func nodeID(prefix string) string {
	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(prefix))
	return "datalink_" + name
}

// buildDiscovery describes the bridge to Home Assistant: two sensors for
// the status line and device state, and buttons for the commands.
func buildDiscovery(prefix string) []discoveryMsg {
	id := nodeID(prefix)
	avail := prefix + "/bridge/state"
	dev := haDevice{
		Identifiers:  []string{id},
		Manufacturer: "Timex",
		Model:        "Datalink",
		Name:         "Datalink sync",
	}

	entities := []struct {
		component string
		object    string
		payload   haDiscovery
	}{
		{"sensor", "status", haDiscovery{
			Name:          "Status",
			StateTopic:    prefix + "/status",
			ValueTemplate: "{{ value_json.message }}",
			Icon:          "mdi:watch",
		}},
		{"sensor", "device_state", haDiscovery{
			Name:       "Device state",
			StateTopic: prefix + "/device/state",
			Icon:       "mdi:serial-port",
		}},
		{"button", "sync", haDiscovery{
			Name:         "Sync watch",
			CommandTopic: prefix + "/command",
			PayloadPress: CommandSync,
			Icon:         "mdi:watch-import",
		}},
		{"button", "connect", haDiscovery{
			Name:         "Connect",
			CommandTopic: prefix + "/command",
			PayloadPress: CommandConnect,
		}},
		{"button", "disconnect", haDiscovery{
			Name:         "Disconnect",
			CommandTopic: prefix + "/command",
			PayloadPress: CommandDisconnect,
		}},
	}

	msgs := make([]discoveryMsg, 0, len(entities))
	for _, e := range entities {
		p := e.payload
		p.UniqueID = id + "_" + e.object
		p.AvailabilityTopic = avail
		p.Device = dev
		msgs = append(msgs, discoveryMsg{
			Topic:   "homeassistant/" + e.component + "/" + id + "/" + e.object + "/config",
			Payload: mustJSON(p),
		})
	}
	return msgs
}
