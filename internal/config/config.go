// Package config generates and checks the TOML files read by collabhub and
// collabctl. The binaries own decoding; this package only knows which keys
// each kind accepts.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var (
	ErrUnknownKind = errors.New("config: unknown kind")
	ErrUnknownKeys = errors.New("config: unknown keys")
)

// Keys returns the top-level keys accepted for kind, sorted.
func Keys(kind string) ([]string, error) {
	template, err := Template(kind)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := toml.Unmarshal([]byte(template), &doc); err != nil {
		return nil, fmt.Errorf("config: %s template: %w", kind, err)
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// CheckFile parses path and rejects keys the kind does not know, which
// the binaries would otherwise ignore silently.
func CheckFile(path, kind string) error {
	known, err := Keys(kind)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := toml.Unmarshal(raw, &doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("config: %s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return checkKeys(doc, known)
}

func checkKeys(doc map[string]any, known []string) error {
	allowed := make(map[string]struct{}, len(known))
	for _, k := range known {
		allowed[k] = struct{}{}
	}
	var unknown []string
	for k := range doc {
		if _, ok := allowed[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: %s", ErrUnknownKeys, strings.Join(unknown, ", "))
}
