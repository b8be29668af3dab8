package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"hotkeyd/internal/bus"
)

func TestPrinterFormat(t *testing.T) {
	fixed := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC) }

	tests := []struct {
		name string
		msg  bus.Message
		want string
	}{
		{
			name: "data sorted by key",
			msg: bus.Message{
				Type:    "mycroft.mic.listen",
				Data:    map[string]any{"b": 2, "a": "x"},
				Context: map[string]any{"source": "hotkeyd", "message_id": "id-1"},
			},
			want: "03:04:05.006 mycroft.mic.listen source=hotkeyd a=x b=2",
		},
		{
			name: "no source",
			msg:  bus.Message{Type: "other"},
			want: "03:04:05.006 other",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &printer{now: fixed}
			if got := p.format(tt.msg); got != tt.want {
				t.Fatalf("format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrinterRawJSON(t *testing.T) {
	var out bytes.Buffer
	p := &printer{w: &out, raw: true}
	p.print(bus.NewMessage("mycroft.mic.mute", nil))

	var decoded bus.Message
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if decoded.Type != "mycroft.mic.mute" || decoded.ID() == "" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestTypeListSplitsCommas(t *testing.T) {
	var types typeList
	for _, v := range []string{"a, b", "", "c"} {
		if err := types.Set(v); err != nil {
			t.Fatal(err)
		}
	}
	if !slices.Equal(types, typeList{"a", "b", "c"}) {
		t.Fatalf("types = %v", types)
	}
}

func TestBusURL(t *testing.T) {
	dir := t.TempDir()
	hub := filepath.Join(dir, "hub.yaml")
	if err := os.WriteFile(hub, []byte("bus:\n  mode: hub\n  addr: 0.0.0.0:9000\n  path: /bus\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	client := filepath.Join(dir, "client.yaml")
	if err := os.WriteFile(client, []byte("bus:\n  mode: client\n  url: ws://10.0.0.5:8181/core\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := busURL(hub); got != "ws://0.0.0.0:9000/bus" {
		t.Fatalf("busURL(hub) = %q", got)
	}
	if got := busURL(client); got != "ws://10.0.0.5:8181/core" {
		t.Fatalf("busURL(client) = %q", got)
	}
	if got := busURL(filepath.Join(dir, "missing.yaml")); got != "ws://127.0.0.1:8181/core" {
		t.Fatalf("busURL(missing) = %q", got)
	}
}
