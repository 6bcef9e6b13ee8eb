package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Source names where a configuration value came from
type Source string

const (
	SourceFile Source = "file"
	SourceEnv  Source = "env"
)

type entry struct {
	value  any
	source Source
}

// Manager collects configuration values keyed by dotted names such as
// "queue.capacity" and copies them into tagged struct fields.
type Manager struct {
	values map[string]entry
	mu     sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		values: make(map[string]entry),
	}
}

// Set sets a configuration value
func (m *Manager) Set(key string, value any, source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = entry{value: value, source: source}
}

// Get gets a configuration value
func (m *Manager) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.values[key]
	return e.value, exists
}

// Keys returns every key from source, sorted
func (m *Manager) Keys(source Source) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k, e := range m.values {
		if e.source == source {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// LoadFromEnv loads variables named PREFIX_SOME_KEY as "some.key"
func (m *Manager) LoadFromEnv(prefix string) {
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, prefix+"_") {
			continue
		}
		key = strings.TrimPrefix(key, prefix+"_")
		key = strings.ToLower(key)
		key = strings.ReplaceAll(key, "_", ".")

		m.Set(key, value, SourceEnv)
	}
}

// LoadFromJSON loads configuration from JSON file. Nested objects are
// flattened into dotted keys.
func (m *Manager) LoadFromJSON(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse JSON config %s: %w", filename, err)
	}

	m.loadFromMap("", values)
	return nil
}

// loadFromMap recursively loads configuration from a map
func (m *Manager) loadFromMap(prefix string, values map[string]any) {
	for key, value := range values {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(map[string]any); ok {
			m.loadFromMap(fullKey, nested)
		} else {
			m.Set(fullKey, value, SourceFile)
		}
	}
}

// TaggedKeys returns the config tag of every settable field of the struct
// target points to.
func TaggedKeys(target any) []string {
	t := reflect.TypeOf(target)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		if key := t.Field(i).Tag.Get("config"); key != "" && key != "-" {
			keys = append(keys, key)
		}
	}
	return keys
}

// Unmarshal copies values into the fields of the struct target points to,
// matching keys against `config` tags. Keys for which skip reports true
// are left alone.
func (m *Manager) Unmarshal(target any, skip func(key string) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Pointer {
		return fmt.Errorf("target must be a pointer")
	}

	targetValue = targetValue.Elem()
	if targetValue.Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct")
	}

	targetType := targetValue.Type()
	for i := 0; i < targetType.NumField(); i++ {
		field := targetType.Field(i)
		fieldValue := targetValue.Field(i)

		configKey := field.Tag.Get("config")
		if configKey == "" || configKey == "-" || !fieldValue.CanSet() {
			continue
		}
		if skip != nil && skip(configKey) {
			continue
		}

		e, exists := m.values[configKey]
		if !exists {
			continue
		}
		if err := setFieldValue(fieldValue, e.value); err != nil {
			return fmt.Errorf("%s %q: %w", e.source, configKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue sets a reflect.Value from a JSON or environment value
func setFieldValue(field reflect.Value, value any) error {
	if field.Type() == durationType {
		switch v := value.(type) {
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		case float64:
			field.SetInt(int64(v))
		default:
			return fmt.Errorf("cannot use %T as a duration", value)
		}
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		if str, ok := value.(string); ok {
			field.SetString(str)
		} else {
			field.SetString(fmt.Sprintf("%v", value))
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch v := value.(type) {
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("%v is not an integer", v)
			}
			field.SetInt(int64(v))
		case string:
			i, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		default:
			return fmt.Errorf("cannot use %T as an integer", value)
		}

	case reflect.Bool:
		switch v := value.(type) {
		case bool:
			field.SetBool(v)
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			field.SetBool(b)
		default:
			return fmt.Errorf("cannot use %T as a bool", value)
		}

	default:
		return fmt.Errorf("unsupported field type %v", field.Type())
	}

	return nil
}
