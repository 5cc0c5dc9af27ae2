package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, root, dir string, manifest Manifest) string {
	t.Helper()

	pluginDir := filepath.Join(root, dir)
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "plugin.json"), manifestBytes, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return pluginDir
}

func TestManager_Discover(t *testing.T) {
	tmpDir := t.TempDir()
	pluginDir := writeManifest(t, tmpDir, "access-log", Manifest{
		Name:        "access-log",
		Version:     "1.0.0",
		Description: "Appends outcomes to a file",
		Executable:  "access-log",
		Actions:     []string{"append", "rotate"},
	})

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugins := manager.List()
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}

	plugin := plugins[0]
	if plugin.Manifest.Name != "access-log" || plugin.Manifest.Version != "1.0.0" {
		t.Errorf("manifest = %+v", plugin.Manifest)
	}
	if !plugin.Manifest.HasAction("rotate") || plugin.Manifest.HasAction("delete") {
		t.Errorf("actions = %v", plugin.Manifest.Actions)
	}
	if plugin.Path != pluginDir {
		t.Errorf("expected path %q, got %q", pluginDir, plugin.Path)
	}
	if plugin.Executable != filepath.Join(pluginDir, "access-log") {
		t.Errorf("executable = %q", plugin.Executable)
	}
}

func TestManager_Discover_Sorted(t *testing.T) {
	tmpDir := t.TempDir()
	for _, name := range []string{"plugin-c", "plugin-a", "plugin-b"} {
		writeManifest(t, tmpDir, name, Manifest{Name: name, Executable: name, Actions: []string{"action"}})
	}

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugins := manager.List()
	if len(plugins) != 3 {
		t.Fatalf("expected 3 plugins, got %d", len(plugins))
	}
	for i, want := range []string{"plugin-a", "plugin-b", "plugin-c"} {
		if plugins[i].Manifest.Name != want {
			t.Errorf("plugins[%d] = %q, want %q", i, plugins[i].Manifest.Name, want)
		}
	}
}

func TestManager_Discover_SkipsBadPlugins(t *testing.T) {
	tmpDir := t.TempDir()

	bad := filepath.Join(tmpDir, "bad-json")
	os.MkdirAll(bad, 0755)
	os.WriteFile(filepath.Join(bad, "plugin.json"), []byte("not valid json"), 0644)

	os.MkdirAll(filepath.Join(tmpDir, "no-manifest"), 0755)
	os.WriteFile(filepath.Join(tmpDir, "stray-file"), []byte("x"), 0644)

	writeManifest(t, tmpDir, "no-exec", Manifest{Name: "no-exec"})

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed unexpectedly: %v", err)
	}

	if plugins := manager.List(); len(plugins) != 0 {
		t.Fatalf("expected 0 plugins, got %d", len(plugins))
	}
}

func TestManager_Discover_Rescan(t *testing.T) {
	tmpDir := t.TempDir()
	dir := writeManifest(t, tmpDir, "door", Manifest{Name: "door", Executable: "door"})

	manager := NewManager(tmpDir)
	manager.Discover()
	if _, err := manager.Get("door"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	os.RemoveAll(dir)
	manager.Discover()
	if _, err := manager.Get("door"); err != ErrPluginNotFound {
		t.Errorf("removed plugin should be forgotten, got %v", err)
	}
}

func TestManager_Get_NotFound(t *testing.T) {
	manager := NewManager(t.TempDir())

	_, err := manager.Get("nonexistent-plugin")
	if err != ErrPluginNotFound {
		t.Errorf("expected ErrPluginNotFound, got %v", err)
	}
}

func TestManager_Discover_NonExistentDir(t *testing.T) {
	manager := NewManager("/path/that/does/not/exist")

	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed on non-existent dir: %v", err)
	}
	if plugins := manager.List(); len(plugins) != 0 {
		t.Fatalf("expected 0 plugins, got %d", len(plugins))
	}
	if manager.PluginDir() != "/path/that/does/not/exist" {
		t.Errorf("PluginDir() = %q", manager.PluginDir())
	}
}
