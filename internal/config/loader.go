package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey pulls other files into a config. "include" is accepted too.
const includeKey = "$include"

// errMultipleDocuments rejects YAML streams with more than one document.
var errMultipleDocuments = errors.New("expected a single document")

// LoadRaw reads a configuration file into a merged raw map. Files named by
// $include are merged first, in order, so the including file wins on
// conflicts. Paths are relative to the file that names them. ${VAR}
// references are expanded from the environment before parsing.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	var r rawLoader
	return r.load(path)
}

// rawLoader tracks the include chain of one LoadRaw call.
type rawLoader struct {
	chain []string
}

func (r *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, p := range r.chain {
		if p == abs {
			return nil, fmt.Errorf("config include cycle: %s", strings.Join(append(r.chain, abs), " -> "))
		}
	}
	r.chain = append(r.chain, abs)
	defer func() { r.chain = r.chain[:len(r.chain)-1] }()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument([]byte(expandEnv(string(data))), abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	includes, err := popIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	merged := make(map[string]any)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := r.load(inc)
		if err != nil {
			return nil, err
		}
		deepMerge(merged, sub)
	}
	deepMerge(merged, doc)
	return merged, nil
}

// expandEnv substitutes $VAR and ${VAR} but leaves the include key intact.
func expandEnv(text string) string {
	return os.Expand(text, func(name string) string {
		if "$"+name == includeKey {
			return includeKey
		}
		return os.Getenv(name)
	})
}

// parseDocument decodes JSON5 for .json and .json5 files and YAML otherwise.
func parseDocument(data []byte, path string) (map[string]any, error) {
	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		if err := decodeSingle(data, &doc, false); err != nil {
			return nil, err
		}
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	return doc, nil
}

// decodeSingle decodes exactly one YAML document into out.
func decodeSingle(data []byte, out any, strict bool) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(strict)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errMultipleDocuments
	}
	return nil
}

// popIncludes removes the include directive from doc and returns its paths.
func popIncludes(doc map[string]any) ([]string, error) {
	var value any
	for _, key := range []string{includeKey, "include"} {
		if v, ok := doc[key]; ok {
			value = v
			delete(doc, key)
			break
		}
	}

	var paths []string
	switch v := value.(type) {
	case nil:
	case string:
		paths = append(paths, v)
	case []any:
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings, got %T", entry)
			}
			paths = append(paths, s)
		}
	default:
		return nil, fmt.Errorf("include must be a string or list of strings, got %T", value)
	}

	out := paths[:0]
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// deepMerge copies src into dst, merging nested maps key by key.
func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			deepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}

// decodeRawConfig round-trips the merged map through YAML into Config,
// rejecting unknown fields.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	if err := decodeSingle(payload, &cfg, true); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
