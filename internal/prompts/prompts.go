// Package prompts holds the LLM prompt templates, embedded as JSON files
// mapping a key to a text/template body.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

//go:embed *.json
var promptFiles embed.FS

var (
	cache   = make(map[string]map[string]*template.Template)
	cacheMu sync.Mutex
)

// Get returns the raw template text stored under key in file.
func Get(file, key string) (string, error) {
	data, err := promptFiles.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %s: %w", file, err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("failed to parse prompt file %s: %w", file, err)
	}
	body, ok := raw[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, file)
	}
	return body, nil
}

// Render executes the template under key in file with data.
func Render(file, key string, data any) (string, error) {
	tmpl, err := lookup(file, key)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s/%s: %w", file, key, err)
	}
	return sb.String(), nil
}

func lookup(file, key string) (*template.Template, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if byKey, ok := cache[file]; ok {
		if tmpl, ok := byKey[key]; ok {
			return tmpl, nil
		}
	}
	body, err := Get(file, key)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(key).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt %s/%s: %w", file, key, err)
	}
	if cache[file] == nil {
		cache[file] = make(map[string]*template.Template)
	}
	cache[file][key] = tmpl
	return tmpl, nil
}
