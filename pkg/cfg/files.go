package cfg

import (
	"bytes"
	"io"
	"os"

	"github.com/drone/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// YAMLFile returns a Source that reads the YAML file at path into dst. When
// expandEnv is set, ${VAR} references are replaced with environment values
// before parsing.
func YAMLFile(path string, expandEnv bool) Source {
	return func(dst interface{}) error {
		buf, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "Error reading config file")
		}
		return YAML(buf, expandEnv)(dst)
	}
}

// YAML returns a Source that decodes buf into dst. Unknown fields are
// rejected so typos in config files fail loudly.
func YAML(buf []byte, expandEnv bool) Source {
	return func(dst interface{}) error {
		if expandEnv {
			s, err := envsubst.EvalEnv(string(buf))
			if err != nil {
				return errors.Wrap(err, "failed to expand env vars from configs")
			}
			buf = []byte(s)
		}

		dec := yaml.NewDecoder(bytes.NewReader(buf))
		dec.KnownFields(true)
		if err := dec.Decode(dst); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "Error parsing config file")
		}
		return nil
	}
}
