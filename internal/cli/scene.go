package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/dunamismax/pixelframe/internal/domain"
)

// loadScene reads a TOML scene. Photo paths are resolved against the
// directory holding the scene file.
func loadScene(path string) (domain.Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Scene{}, fmt.Errorf("read scene: %w", err)
	}
	scene, err := parseScene(data, filepath.Dir(path))
	if err != nil {
		return domain.Scene{}, fmt.Errorf("%s: %w", path, err)
	}
	return scene, nil
}

func parseScene(data []byte, baseDir string) (domain.Scene, error) {
	var scene domain.Scene
	meta, err := toml.Decode(string(data), &scene)
	if err != nil {
		return domain.Scene{}, fmt.Errorf("parse scene: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return domain.Scene{}, fmt.Errorf("unknown scene keys: %s", strings.Join(keys, ", "))
	}

	kind, err := domain.ParseKind(string(scene.Kind))
	if err != nil {
		return domain.Scene{}, err
	}
	scene.Kind = kind

	if scene.Cover != nil {
		resolvePhoto(scene.Cover.Photo, baseDir)
	}
	if scene.Poster != nil {
		resolvePhoto(scene.Poster.Before, baseDir)
		resolvePhoto(scene.Poster.After, baseDir)
	}

	if err := scene.Validate(); err != nil {
		return domain.Scene{}, err
	}
	return scene, nil
}

func resolvePhoto(p *domain.Photo, baseDir string) {
	if p == nil || p.ObjectKey == "" || filepath.IsAbs(p.ObjectKey) {
		return
	}
	p.ObjectKey = filepath.Join(baseDir, p.ObjectKey)
}
