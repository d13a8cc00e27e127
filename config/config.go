package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// File is a parsed YAML configuration file. Top-level scalar and list keys are flag names
// valid for every command; mapping keys name a command and hold that command's flags.
//
//	log-level: debug
//	serve:
//	  trust-level: untrusted-network
//	  bind-address: 192.168.4.1
//	  trusted-networks: [192.168.4.0/24]
type File struct {
	Path     string
	global   map[string]interface{}
	commands map[string]map[string]interface{}
}

// Load reads and parses the file at path
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse parses YAML data; path is only used in messages
func Parse(path string, data []byte) (*File, error) {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	f := &File{
		Path:     path,
		global:   map[string]interface{}{},
		commands: map[string]map[string]interface{}{},
	}
	for k, v := range raw {
		if section, ok := v.(map[string]interface{}); ok {
			f.commands[k] = section
			continue
		}
		f.global[k] = v
	}
	return f, nil
}

// Apply sets the flags of command from the file. Flags already changed, on the command line
// or through the environment, keep their value. Unknown keys are an error.
func (f *File) Apply(command string, flags *pflag.FlagSet) error {
	var errs error
	if err := apply(f.global, flags, ""); err != nil {
		errs = multierror.Append(errs, err)
	}
	if section, ok := f.commands[command]; ok {
		if err := apply(section, flags, command+"."); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		return fmt.Errorf("config %s: %w", f.Path, errs)
	}
	return nil
}

func apply(values map[string]interface{}, flags *pflag.FlagSet, prefix string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs error
	for _, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			errs = multierror.Append(errs, fmt.Errorf("unknown option %s%s", prefix, name))
			continue
		}
		if flag.Changed {
			log.Debugf("option %s%s overridden by command line or environment", prefix, name)
			continue
		}
		value, err := render(values[name])
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("option %s%s: %w", prefix, name, err))
			continue
		}
		if err := flags.Set(name, value); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("option %s%s: %w", prefix, name, err))
		}
	}
	return errs
}

func render(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", errors.New("empty value")
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, err := render(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	case map[string]interface{}:
		return "", errors.New("nested mappings are not supported")
	default:
		return fmt.Sprint(val), nil
	}
}
