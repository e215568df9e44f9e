package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir registers the prompt files in dir with the default registry. A
// missing directory loads nothing. See LoadFS.
func LoadDir(dir string) (int, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return 0, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return defaultRegistry.LoadFS(os.DirFS(dir))
}

// LoadFS registers every .yaml, .yml and .json file under fsys. A YAML file
// may hold several prompts as separate documents. A prompt without a name
// takes the file's base name, which only works for single-prompt files.
// Loading stops at the first invalid prompt; earlier ones stay registered.
func (r *Registry) LoadFS(fsys fs.FS) (int, error) {
	loaded := 0
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(path.Ext(p))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			return nil
		}
		specs, err := readSpecs(fsys, p, ext)
		if err != nil {
			return err
		}
		stem := strings.TrimSuffix(path.Base(p), path.Ext(p))
		for _, spec := range specs {
			if strings.TrimSpace(spec.Name) == "" && len(specs) == 1 {
				spec.Name = stem
			}
			if _, err := r.Register(spec); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			loaded++
		}
		return nil
	})
	return loaded, err
}

func readSpecs(fsys fs.FS, name, ext string) ([]Spec, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if ext == ".json" {
		var spec Spec
		if err := json.NewDecoder(f).Decode(&spec); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return []Spec{spec}, nil
	}

	var specs []Spec
	dec := yaml.NewDecoder(f)
	for {
		var spec Spec
		err := dec.Decode(&spec)
		if errors.Is(err, io.EOF) {
			return specs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		specs = append(specs, spec)
	}
}
