package cfg

import (
	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"
)

// Defaults returns a Source that fills dst with the default values of the
// flags it registers. dst must implement flagext.Registerer.
func Defaults() Source {
	return func(dst interface{}) error {
		r, ok := dst.(flagext.Registerer)
		if !ok {
			return errors.Errorf("%T does not register flags", dst)
		}
		flagext.DefaultValues(r)
		return nil
	}
}
