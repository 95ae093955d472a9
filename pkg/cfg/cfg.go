package cfg

import (
	"reflect"

	"github.com/pkg/errors"
)

// Source is a generic configuration source. This function may do whatever is
// required to obtain the configuration. It is passed a pointer to the
// destination, which will be something compatible to `yaml.Unmarshal`. The
// obtained configuration may be written to this object, it may also contain
// data from previous sources.
type Source func(interface{}) error

// Unmarshal merges the values of the various configuration sources and sets them on
// `dst`. The object must be compatible with `yaml.Unmarshal`.
func Unmarshal(dst interface{}, sources ...Source) error {
	if len(sources) == 0 {
		panic("No sources supplied to cfg.Unmarshal(). This is most likely a programming issue and should never happen. Check the code!")
	}
	for _, source := range sources {
		if err := source(dst); err != nil {
			return errors.Wrap(err, "sourcing")
		}
	}
	return nil
}

// Validator is implemented by configs that can check themselves once all
// sources are applied.
type Validator interface {
	Validate() error
}

// Parse is a higher level wrapper for Unmarshal. It applies flag defaults, the
// YAML file at path (skipped when empty) and then the overrides, in that order,
// and finally validates dst when it implements Validator.
func Parse(dst interface{}, path string, expandEnv bool, overrides ...Source) error {
	// check dst is a pointer
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr {
		panic("dst not a pointer")
	}

	sources := []Source{Defaults()}
	if path != "" {
		sources = append(sources, YAMLFile(path, expandEnv))
	}
	sources = append(sources, overrides...)

	if err := Unmarshal(dst, sources...); err != nil {
		return err
	}
	if val, ok := dst.(Validator); ok {
		return errors.Wrap(val.Validate(), "invalid config")
	}
	return nil
}
