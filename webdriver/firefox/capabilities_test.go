package firefox

import (
	"encoding/json"
	"testing"
)

func TestCapabilitiesJSON(t *testing.T) {
	c := Capabilities{Args: []string{"-headless"}, Log: &Log{Level: Warn}}
	c.AllowLocalhostProxy()
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("json.Marshal() returned error: %v", err)
	}
	want := `{"args":["-headless"],"log":{"level":"warn"},"prefs":{"network.proxy.allow_hijacking_localhost":true}}`
	if got := string(data); got != want {
		t.Fatalf("json.Marshal() = %q, want %q", got, want)
	}
}
