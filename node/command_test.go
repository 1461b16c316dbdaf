package node

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/peerpull/go-peerpull/cmd"
	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/config"
	"github.com/peerpull/go-peerpull/notification"
)

func writeConfig(tb testing.TB, content string) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "config.yaml")
	require.NoError(tb, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigure_Precedence(t *testing.T) {
	path := writeConfig(t, `
main:
  preset: standalone
dictionary:
  capacity: 50
pool:
  timeout: 5s
`)
	conf := config.DefaultConfig()
	c := &cobra.Command{}
	cmd.AddFlags(c.PersistentFlags(), &conf)
	require.NoError(t, c.ParseFlags([]string{"--dictionary-capacity=7", "--zombie-threshold=3s"}))

	require.NoError(t, configure(c, path, &conf))
	require.Equal(t, "standalone", conf.Preset)
	require.Equal(t, path, conf.ConfigFile)
	// flag beats file
	require.Equal(t, 7, conf.Dictionary.Capacity)
	require.Equal(t, 3*time.Second, conf.Discovery.ZombieThreshold)
	// file beats preset
	require.Equal(t, 5*time.Second, conf.Pool.Timeout)
	// preset beats defaults
	require.Equal(t, map[types.ConnectionType]int{types.Loopback: 2}, conf.Pool.Concurrency)
	require.Equal(t, "debug", conf.Logging.Level)
}

func TestConfigure_PresetFlag(t *testing.T) {
	conf := config.DefaultConfig()
	c := &cobra.Command{}
	cmd.AddFlags(c.PersistentFlags(), &conf)
	require.NoError(t, c.ParseFlags([]string{"--preset=fastnet"}))

	require.NoError(t, configure(c, "", &conf))
	require.Equal(t, "fastnet", conf.Preset)
	require.NoError(t, conf.Validate())
}

func TestConfigure_Errors(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		content string
		args    []string
		err     string
	}{
		{
			desc: "unknown preset",
			args: []string{"--preset=mainnet"},
			err:  "unknown preset",
		},
		{
			desc:    "unknown preset in file",
			content: "main:\n  preset: nope\n",
			err:     "unknown preset",
		},
		{
			desc:    "unused key",
			content: "dictionary:\n  size: 3\n",
			err:     "size",
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			path := ""
			if tc.content != "" {
				path = writeConfig(t, tc.content)
			}
			conf := config.DefaultConfig()
			c := &cobra.Command{}
			cmd.AddFlags(c.PersistentFlags(), &conf)
			require.NoError(t, c.ParseFlags(tc.args))
			require.ErrorContains(t, configure(c, path, &conf), tc.err)
		})
	}
}

func TestCommand_Key(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	c := GetCommand()
	c.SetOut(&out)
	c.SetArgs([]string{"key", "--data-folder", dir})
	require.NoError(t, c.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	pub, err := notification.ParsePublicKey(lines[0])
	require.NoError(t, err)
	require.Equal(t, "key id: "+pub.KeyID().String(), lines[1])
	require.FileExists(t, filepath.Join(dir, config.DefaultConfig().KeyFile))
}

func TestCommand_Version(t *testing.T) {
	cmd.Version = "v1.2.3"
	cmd.Commit = "abc"
	t.Cleanup(func() { cmd.Version, cmd.Commit = "", "" })

	var out bytes.Buffer
	c := GetCommand()
	c.SetOut(&out)
	c.SetArgs([]string{"version"})
	require.NoError(t, c.Execute())
	require.Equal(t, "v1.2.3+abc\n", out.String())
}
