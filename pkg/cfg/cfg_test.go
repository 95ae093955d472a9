package cfg

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Data is a test config with nested sections, mirroring how real configs are
// composed.
type Data struct {
	Verbose bool   `yaml:"verbose"`
	Server  Server `yaml:"server"`
	TLS     TLS    `yaml:"tls"`
}

type Server struct {
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

func (d *Data) RegisterFlags(f *flag.FlagSet) {
	f.BoolVar(&d.Verbose, "verbose", false, "")
	f.IntVar(&d.Server.Port, "server.port", 80, "")
	f.DurationVar(&d.Server.Timeout, "server.timeout", 60*time.Second, "")
	f.StringVar(&d.TLS.Cert, "tls.cert", "CERT", "")
	f.StringVar(&d.TLS.Key, "tls.key", "KEY", "")
}

func (d *Data) Validate() error {
	if d.Server.Port <= 0 {
		return errInvalidPort
	}
	return nil
}

var errInvalidPort = &portError{}

type portError struct{}

func (*portError) Error() string { return "server.port must be positive" }

func TestParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 2000
  timeout: 60h
tls:
  key: YAML
`), 0o600))

	override := func(dst interface{}) error {
		dst.(*Data).Verbose = true
		dst.(*Data).Server.Port = 21
		return nil
	}

	var c Data
	err := Parse(&c, path, false, override)
	require.NoError(t, err)

	require.Equal(t, Data{
		Verbose: true,
		Server: Server{
			Port:    21,
			Timeout: 60 * time.Hour,
		},
		TLS: TLS{
			Cert: "CERT",
			Key:  "YAML",
		},
	}, c)
}

func TestParseWithoutFile(t *testing.T) {
	var c Data
	require.NoError(t, Parse(&c, "", false))
	require.Equal(t, 80, c.Server.Port)
	require.Equal(t, "KEY", c.TLS.Key)
}

func TestParseValidates(t *testing.T) {
	override := func(dst interface{}) error {
		dst.(*Data).Server.Port = -1
		return nil
	}

	var c Data
	err := Parse(&c, "", false, override)
	require.ErrorIs(t, err, errInvalidPort)
}

func TestParseMissingFile(t *testing.T) {
	var c Data
	err := Parse(&c, filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestUnmarshalPanicsWithoutSources(t *testing.T) {
	require.Panics(t, func() {
		_ = Unmarshal(&Data{})
	})
}
