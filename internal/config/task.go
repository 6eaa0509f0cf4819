package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Task describes one virtual function reconciliation in file form.
type Task struct {
	CPCName       string         `yaml:"cpc_name"`
	PartitionName string         `yaml:"partition_name"`
	Name          string         `yaml:"name"`
	State         string         `yaml:"state"`
	Properties    map[string]any `yaml:"properties"`
	CheckMode     bool           `yaml:"check_mode"`
}

// LoadTask reads a task file. Environment variables are expanded like in
// the configuration file.
func LoadTask(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data, err = expandYAML(data)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", path, err)
	}

	var task Task
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&task); err != nil {
		return nil, fmt.Errorf("task %s: %w", path, err)
	}
	return &task, nil
}

// LoadProperties reads a YAML mapping of virtual function properties.
func LoadProperties(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err = expandYAML(data)
	if err != nil {
		return nil, fmt.Errorf("properties %s: %w", path, err)
	}
	props := map[string]any{}
	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("properties %s: %w", path, err)
	}
	return props, nil
}
