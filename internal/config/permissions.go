package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stupiduntilnot/msgflux/internal/permission"
)

// PermissionFile is the on-disk permission table.
type PermissionFile struct {
	Defaults *permission.Rule           `yaml:"defaults"`
	Modules  map[string]permission.Rule `yaml:"modules"`
}

// LoadPermissions reads, expands and compiles a permission file.
func LoadPermissions(path string) (*permission.Guard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read permissions %s: %w", path, err)
	}
	guard, err := ParsePermissions(data)
	if err != nil {
		return nil, fmt.Errorf("permissions %s: %w", path, err)
	}
	return guard, nil
}

// ParsePermissions compiles permission YAML. ${VAR} references are expanded
// from the environment first. A missing defaults block means
// permission.DefaultRule.
func ParsePermissions(data []byte) (*permission.Guard, error) {
	expanded := os.ExpandEnv(string(data))

	var file PermissionFile
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	defaults := permission.DefaultRule()
	if file.Defaults != nil {
		defaults = *file.Defaults
	}
	return permission.NewGuard(permission.Table(file.Modules), defaults)
}
