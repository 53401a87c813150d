package bus

import "testing"

func TestCatalogSize(t *testing.T) {
	if got := len(Entities()); got != 16 {
		t.Errorf("catalog has %d entities, want 16", got)
	}
	if got := len(Events()); got != 2 {
		t.Errorf("catalog has %d events, want 2", got)
	}
}

func TestCatalogUniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for _, e := range Entities() {
		uid, ok := e.Config["unique_id"].(string)
		if !ok || uid == "" {
			t.Errorf("entity %s has no unique_id", e.ID())
			continue
		}
		if seen[uid] {
			t.Errorf("duplicate unique_id %s", uid)
		}
		seen[uid] = true
	}
}

func TestCatalogDeviceBlock(t *testing.T) {
	for _, e := range Entities() {
		if _, ok := e.Config["device"]; !ok {
			t.Errorf("entity %s missing shared device block", e.ID())
		}
	}
	for _, ev := range Events() {
		if _, ok := ev.Config["device"]; !ok {
			t.Errorf("event %s missing shared device block", ev.Type)
		}
	}
}

func TestTopicScheme(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{DiscoveryTopic("switch", "monitoring"), "homeassistant/switch/sensecap_watcher/monitoring/config"},
		{StateTopic("switch", "monitoring"), "sensecap_watcher/switch/monitoring/state"},
		{CommandTopic("switch", "monitoring"), "sensecap_watcher/switch/monitoring/set"},
		{EventStateTopic("alert"), "sensecap_watcher/event/alert/state"},
		{EventDiscoveryTopic("alert"), "homeassistant/event/sensecap_watcher_alert/config"},
		{ImageTopic(), "sensecap_watcher/image/snapshot/image"},
		{CommandSubscription(), "sensecap_watcher/+/+/set"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}

func TestParseCommandTopic(t *testing.T) {
	cmd, ok := parseCommandTopic("sensecap_watcher/switch/monitoring/set", "ON")
	if !ok {
		t.Fatal("expected valid command topic to parse")
	}
	if cmd.Component != "switch" || cmd.ObjectID != "monitoring" || cmd.Payload != "ON" {
		t.Errorf("parsed %+v", cmd)
	}

	for _, topic := range []string{
		"other_node/switch/monitoring/set",
		"sensecap_watcher/switch/monitoring/state",
		"sensecap_watcher/set",
	} {
		if _, ok := parseCommandTopic(topic, ""); ok {
			t.Errorf("topic %q should not parse as a command", topic)
		}
	}
}
