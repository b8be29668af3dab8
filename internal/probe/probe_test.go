package probe

import (
	"os"
	"path/filepath"
	"testing"
)

func mkfile(t *testing.T, root string, rel string, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func mkdir(t *testing.T, root string, rel string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, rel), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
}

func TestRespeaker(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, root string)
		want  bool
	}{
		{
			name:  "empty system",
			setup: func(*testing.T, string) {},
			want:  false,
		},
		{
			name: "seeed sound card",
			setup: func(t *testing.T, root string) {
				mkfile(t, root, "proc/asound/cards", " 0 [seeed2micvoicec]: seeed-2mic-voicecard - seeed-2mic-voicecard\n")
			},
			want: true,
		},
		{
			name: "codec on i2c",
			setup: func(t *testing.T, root string) {
				mkdir(t, root, "sys/bus/i2c/devices/1-001a")
			},
			want: true,
		},
		{
			name: "codec named on i2c",
			setup: func(t *testing.T, root string) {
				mkfile(t, root, "sys/bus/i2c/devices/3-0034/name", "WM8960\n")
			},
			want: true,
		},
		{
			name: "unrelated card",
			setup: func(t *testing.T, root string) {
				mkfile(t, root, "proc/asound/cards", " 0 [Headphones]: bcm2835_headpho\n")
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			tt.setup(t, root)
			if got := (Prober{Root: root}).Respeaker(); got != tt.want {
				t.Fatalf("Respeaker() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSJ201NeedsBothChips(t *testing.T) {
	root := t.TempDir()
	p := Prober{Root: root}
	mkdir(t, root, "sys/bus/i2c/devices/1-002f")
	if p.SJ201() {
		t.Fatal("SJ201() = true with only the amplifier present")
	}
	mkdir(t, root, "sys/bus/i2c/devices/1-002c")
	if !p.SJ201() {
		t.Fatal("SJ201() = false with amplifier and voice processor present")
	}
}

func TestDefaultRulesOrder(t *testing.T) {
	rules := Prober{Root: t.TempDir()}.DefaultRules()
	if len(rules) != 2 || rules[0].Board != "wm8960" || rules[1].Board != "SJ201" {
		t.Fatalf("DefaultRules() = %+v, want respeaker then sj201", rules)
	}
}
