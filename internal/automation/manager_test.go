//go:build !no_automation

package automation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scripts")
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)

	s := &Script{
		Meta: ScriptMeta{
			Name:        "Presence Alert",
			Description: "logs arrivals",
			Enabled:     true,
		},
		LuaCode: `lanscout.log("hello")`,
	}

	saved, err := m.Save(s)
	if err != nil {
		t.Fatal(err)
	}

	if saved.ID != "presence_alert" {
		t.Errorf("id = %q, want presence_alert", saved.ID)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}

	if got.Meta.Name != "Presence Alert" {
		t.Errorf("name = %q, want Presence Alert", got.Meta.Name)
	}
	if got.Meta.Description != "logs arrivals" {
		t.Errorf("description = %q", got.Meta.Description)
	}
	if !got.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if !strings.Contains(got.LuaCode, `lanscout.log("hello")`) {
		t.Errorf("lua_code = %q, want to contain lanscout.log", got.LuaCode)
	}
}

func TestManagerSaveExistingID(t *testing.T) {
	m := newTestManager(t)

	s := &Script{
		ID: "my_script",
		Meta: ScriptMeta{
			Name:    "My Script",
			Enabled: true,
		},
		LuaCode: `lanscout.log("v1")`,
	}

	saved, err := m.Save(s)
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "my_script" {
		t.Errorf("id = %q, want my_script", saved.ID)
	}

	// Update same script
	saved.LuaCode = `lanscout.log("v2")`
	if _, err := m.Save(saved); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("my_script")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.LuaCode, `lanscout.log("v2")`) {
		t.Errorf("lua_code after update = %q", got.LuaCode)
	}
}

func TestManagerList(t *testing.T) {
	m := newTestManager(t)

	for _, name := range []string{"Alpha", "Beta", "Gamma"} {
		_, err := m.Save(&Script{
			Meta:    ScriptMeta{Name: name, Enabled: true},
			LuaCode: `lanscout.log("` + name + `")`,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 3 {
		t.Fatalf("list count = %d, want 3", len(scripts))
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "ToDelete", Enabled: true},
		LuaCode: `lanscout.log("bye")`,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(saved.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Get(saved.ID); err == nil {
		t.Error("expected error after delete, got nil")
	}
}

func TestManagerGetNotFound(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Get("nonexistent"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestManagerRejectsUnsafeID(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q) accepted an unsafe id", id)
		}
	}
}

func TestManagerUniqueID(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "Dup", Enabled: true},
		LuaCode: `lanscout.log("1")`,
	})
	if err != nil {
		t.Fatal(err)
	}

	s2, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "Dup", Enabled: true},
		LuaCode: `lanscout.log("2")`,
	})
	if err != nil {
		t.Fatal(err)
	}

	if s1.ID == s2.ID {
		t.Errorf("expected unique IDs, got %q for both", s1.ID)
	}
}

func TestParseScriptFile(t *testing.T) {
	dir := t.TempDir()
	content := `-- {"name":"NAS Watch","description":"Warn when the NAS drops off","enabled":true}

lanscout.on("device_offline", {mac="AA:BB:CC:00:00:01"}, function(event)
    lanscout.log("nas went offline")
end)
`
	path := filepath.Join(dir, "nas_watch.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if s.ID != "nas_watch" {
		t.Errorf("id = %q, want nas_watch", s.ID)
	}
	if s.Meta.Name != "NAS Watch" {
		t.Errorf("name = %q, want NAS Watch", s.Meta.Name)
	}
	if !s.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if !strings.Contains(s.LuaCode, `lanscout.on("device_offline"`) {
		t.Errorf("lua_code missing expected content: %q", s.LuaCode)
	}
	if strings.Contains(s.LuaCode, `-- {`) {
		t.Errorf("metadata header leaked into lua_code: %q", s.LuaCode)
	}
}

func TestSerializeScriptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{dir: dir}

	s := &Script{
		ID: "round",
		Meta: ScriptMeta{
			Name:        "Round Trip",
			Description: "desc",
			Enabled:     true,
		},
		LuaCode: `lanscout.log("hi")`,
	}

	content := serializeScript(s)
	if !strings.HasPrefix(content, "-- {") {
		t.Fatalf("expected metadata line prefix, got: %q", content)
	}

	path := filepath.Join(dir, "round.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta != s.Meta {
		t.Errorf("meta = %+v, want %+v", got.Meta, s.Meta)
	}
	if strings.TrimSpace(got.LuaCode) != s.LuaCode {
		t.Errorf("lua_code = %q, want %q", got.LuaCode, s.LuaCode)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Presence Alert", "presence_alert"},
		{"hello world!", "hello_world"},
		{"", ""},
		{"  spaces  ", "spaces"},
		{"UPPER", "upper"},
	}
	for _, tt := range tests {
		got := slugify(tt.input)
		if got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
