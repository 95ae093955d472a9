package cfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaults checks whether `Defaults()` correctly sets values from flag defaults
func TestDefaults(t *testing.T) {
	var d Data
	err := Defaults()(&d)
	require.NoError(t, err)
	assert.Equal(t, Data{
		Verbose: false,
		Server: Server{
			Port:    80,
			Timeout: 60 * time.Second,
		},
		TLS: TLS{
			Cert: "CERT",
			Key:  "KEY",
		},
	}, d)
}

func TestDefaultsRequiresRegisterer(t *testing.T) {
	var s Server
	err := Defaults()(&s)
	require.Error(t, err)
}

// TestYAMLMerge checks that YAML values only replace the fields they name
func TestYAMLMerge(t *testing.T) {
	var c Data
	err := Unmarshal(&c,
		Defaults(),
		YAML([]byte("server:\n  timeout: 12h\n"), false),
	)
	require.NoError(t, err)
	assert.Equal(t, Data{
		Verbose: false,
		Server: Server{
			Port:    80,
			Timeout: 12 * time.Hour,
		},
		TLS: TLS{
			Cert: "CERT",
			Key:  "KEY",
		},
	}, c)
}

func TestYAMLExpandEnv(t *testing.T) {
	t.Setenv("HEAPPROBE_TEST_CERT", "from-env")

	var c Data
	err := Unmarshal(&c,
		Defaults(),
		YAML([]byte("tls:\n  cert: ${HEAPPROBE_TEST_CERT}\n"), true),
	)
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.TLS.Cert)
}

func TestYAMLUnknownField(t *testing.T) {
	var c Data
	err := Unmarshal(&c, YAML([]byte("nope: 1\n"), false))
	require.Error(t, err)
}

func TestYAMLEmpty(t *testing.T) {
	var c Data
	err := Unmarshal(&c, Defaults(), YAML(nil, false))
	require.NoError(t, err)
	assert.Equal(t, 80, c.Server.Port)
}
