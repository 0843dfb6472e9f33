package app

import (
	"errors"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "go.hackfix.me/natmgr/app/errors"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

func TestAppMappingIntegration(t *testing.T) {
	t.Parallel()

	automatic := []string{
		"10.0.0.5 50000/tcp -> 22",
		"10.0.0.5 50001/tcp -> 80",
		"10.0.0.5 50002/tcp -> 443",
		"10.0.0.5 50003/tcp -> 8080",
		"10.0.0.5 50004/tcp -> 50004",
		"10.0.0.5 50005/tcp -> 50005",
	}
	withManual := append(append([]string{}, automatic...),
		"10.0.0.6 50006/udp -> 53",
		"10.0.0.6 50007/tcp -> 53",
	)

	tests := []struct {
		name        string
		args        []string
		expStdout   string
		expErr      string
		expMappings []string
	}{
		{
			name: "ok/add_automatic",
			args: []string{"add", "10.0.0.5"},
			expStdout: "" +
				" EXTERNAL  PROTOCOL  DESTINATION    \n" +
				" 50000     tcp       10.0.0.5:22    \n" +
				" 50001     tcp       10.0.0.5:80    \n" +
				" 50002     tcp       10.0.0.5:443   \n" +
				" 50003     tcp       10.0.0.5:8080  \n" +
				" 50004     tcp       10.0.0.5:50004 \n" +
				" 50005     tcp       10.0.0.5:50005 \n",
			expMappings: automatic,
		},
		{
			name: "ok/add_manual",
			args: []string{
				"add", "10.0.0.6", "--mode", "manual", "--num-ports", "2",
				"--internal-ports", "53,53", "--protocols", "udp,tcp", "--description", "dns",
			},
			expStdout: "" +
				" EXTERNAL  PROTOCOL  DESTINATION \n" +
				" 50006     udp       10.0.0.6:53 \n" +
				" 50007     tcp       10.0.0.6:53 \n",
			expMappings: withManual,
		},
		{
			name:        "err/add_owner_bound",
			args:        []string{"add", "10.0.0.5"},
			expErr:      "owner already has port mappings: 10.0.0.5",
			expMappings: withManual,
		},
		{
			name:        "err/add_invalid_owner",
			args:        []string{"add", "10.0.0.256"},
			expErr:      "invalid owner address: '10.0.0.256'",
			expMappings: withManual,
		},
		{
			name:        "err/add_manual_without_ports",
			args:        []string{"add", "10.0.0.7", "--mode", "manual", "--num-ports", "2"},
			expErr:      "internal ports are required in manual mode",
			expMappings: withManual,
		},
		{
			name:        "err/add_invalid_mode",
			args:        []string{"add", "10.0.0.7", "--mode", "random"},
			expErr:      "failed parsing CLI arguments",
			expMappings: withManual,
		},
		{
			name: "ok/list_owner",
			args: []string{"ls", "10.0.0.6"},
			expStdout: "" +
				" OWNER     EXTERNAL  INTERNAL  PROTOCOL  DESCRIPTION \n" +
				" 10.0.0.6  50006     53        udp       dns         \n" +
				" 10.0.0.6  50007     53        tcp       dns         \n",
			expMappings: withManual,
		},
		{
			name:        "ok/list_owner_empty",
			args:        []string{"list", "10.0.0.9"},
			expMappings: withManual,
		},
		{
			name:        "ok/reserve",
			args:        []string{"reserve", "60000-60002", "8080", "--description", "admin"},
			expStdout:   "Reserved 4 ports\n",
			expMappings: withManual,
		},
		{
			name: "ok/list_reserved",
			args: []string{"list-reserved"},
			expStdout: "" +
				" PORT   DESCRIPTION \n" +
				" 8080   admin       \n" +
				" 60000  admin       \n" +
				" 60001  admin       \n" +
				" 60002  admin       \n",
			expMappings: withManual,
		},
		{
			name:        "err/reserve_assigned",
			args:        []string{"reserve", "50000"},
			expErr:      "port is already assigned: 50000",
			expMappings: withManual,
		},
		{
			name:        "err/reserve_invalid_range",
			args:        []string{"reserve", "60010-60000"},
			expErr:      "invalid port range '60010-60000'",
			expMappings: withManual,
		},
		{
			name:        "err/reserve_zero",
			args:        []string{"reserve", "0"},
			expErr:      "port must be greater than 0",
			expMappings: withManual,
		},
		{
			name:        "ok/unreserve",
			args:        []string{"unreserve", "60000-60002"},
			expStdout:   "Unreserved 3 ports\n",
			expMappings: withManual,
		},
		{
			name:        "ok/remove",
			args:        []string{"rm", "10.0.0.6"},
			expStdout:   "Removed 2 port mappings of 10.0.0.6\n",
			expMappings: automatic,
		},
		{
			name:        "err/remove_no_mappings",
			args:        []string{"remove", "10.0.0.6"},
			expErr:      "no port mappings found for owner 10.0.0.6",
			expMappings: automatic,
		},
		{
			name: "ok/stats",
			args: []string{"stats"},
			expStdout: "" +
				" STATISTIC       VALUE \n" +
				" Mappings        6     \n" +
				" Owners          1     \n" +
				" TCP mappings    6     \n" +
				" UDP mappings    0     \n" +
				" Reserved ports  1     \n",
			expMappings: automatic,
		},
	}

	tctx, cancel, h := newTestContext(t, 10*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err = app.Run(tt.args...)
			stdout := app.stdout.String()

			if tt.expErr != "" {
				h(assert.ErrorContains(t, err, tt.expErr))
			} else {
				h(assert.NoError(t, err))
			}

			h(assert.Equal(t, tt.expStdout, stdout))

			mappings, err := app.ctx.Engine.List(app.ctx.Ctx, "")
			h(assert.NoError(t, err))
			h(assert.Equal(t, tt.expMappings, summarize(mappings)))
			h(assert.Len(t, app.fw.Rules(), len(tt.expMappings)))
		})
	}
}

func TestAppTransferIntegration(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 10*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	err = app.Run("add", "10.0.0.5", "--num-ports", "2", "--description", "web")
	h(assert.NoError(t, err))

	h(assert.NoError(t, app.fs.MkdirAll("/out", 0o755)))
	err = app.Run("export", "/out/mappings.yaml")
	h(assert.NoError(t, err))
	h(assert.Equal(t, "Exported 2 port mappings to /out/mappings.yaml\n", app.stdout.String()))

	data, err := vfs.ReadFile(app.fs, "/out/mappings.yaml")
	h(assert.NoError(t, err))
	h(assert.Equal(t, ""+
		"- owner: 10.0.0.5\n"+
		"  external_port: 50000\n"+
		"  internal_port: 22\n"+
		"  protocol: tcp\n"+
		"  description: web\n"+
		"- owner: 10.0.0.5\n"+
		"  external_port: 50001\n"+
		"  internal_port: 80\n"+
		"  protocol: tcp\n"+
		"  description: web\n", string(data)))

	err = app.Run("rm", "10.0.0.5")
	h(assert.NoError(t, err))
	h(assert.Empty(t, app.fw.Rules()))

	err = app.Run("import", "/out/mappings.yaml")
	h(assert.NoError(t, err))
	h(assert.Equal(t, "Imported 2 port mappings from /out/mappings.yaml\n", app.stdout.String()))

	mappings, err := app.ctx.Engine.List(app.ctx.Ctx, "")
	h(assert.NoError(t, err))
	h(assert.Equal(t, []string{"10.0.0.5 50000/tcp -> 22", "10.0.0.5 50001/tcp -> 80"}, summarize(mappings)))
	h(assert.Len(t, app.fw.Rules(), 2))

	// Importing the same file again skips the known mappings.
	err = app.Run("import", "/out/mappings.yaml")
	h(assert.NoError(t, err))
	h(assert.Equal(t, "Imported 0 port mappings from /out/mappings.yaml\n", app.stdout.String()))

	err = app.Run("export", "/out/mappings.txt", "--format", "xml")
	h(assert.ErrorContains(t, err, "unsupported format 'xml'"))

	err = app.Run("import", "/out/missing.json")
	h(assert.ErrorContains(t, err, "failed opening import file"))
}

func TestAppRebuildIntegration(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 10*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	rule, err := ftypes.NewRule(ftypes.ProtocolUDP, 51000, "10.0.0.9", 1194)
	require.NoError(t, err)
	require.NoError(t, app.fw.InsertRule(rule))

	err = app.Run("rebuild-db")
	h(assert.NoError(t, err))
	h(assert.Equal(t, ""+
		"Recovered 1 port mappings from firewall rules\n"+
		" OWNER     EXTERNAL  INTERNAL  PROTOCOL  DESCRIPTION \n"+
		" 10.0.0.9  51000     1194      udp                   \n", app.stdout.String()))

	// Nothing left to recover.
	err = app.Run("rebuild-db")
	h(assert.NoError(t, err))
	h(assert.Equal(t, "Recovered 0 port mappings from firewall rules\n", app.stdout.String()))
}

func TestAppFirewallFailure(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 10*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	app.fw.SetOpFailError("insert", errors.New("iptables: Resource temporarily unavailable"))

	err = app.Run("add", "10.0.0.5", "--num-ports", "2")
	h(assert.Error(t, err))
	h(assert.True(t, errors.Is(err, aerrors.ErrExternalCommand)))
	h(assert.Equal(t, "", app.stdout.String()))

	mappings, err := app.ctx.Engine.List(app.ctx.Ctx, "")
	h(assert.NoError(t, err))
	h(assert.Empty(t, mappings))
}

func TestAppPrivileges(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 10*time.Second)
	defer cancel()

	app, err := newTestApp(tctx, WithFirewall(nil))
	h(assert.NoError(t, err))

	err = app.Run("list")
	h(assert.ErrorContains(t, err, "managing the iptables firewall requires root privileges"))

	h(assert.NoError(t, vfs.WriteFile(app.fs, "/config.json",
		[]byte(`{"firewall": {"type": "mock"}, "ports": {"start": 40000}}`), 0o644)))

	app, err = newTestApp(tctx, WithFirewall(nil), WithFS(app.fs))
	h(assert.NoError(t, err))

	err = app.Run("add", "10.0.0.5", "--num-ports", "1")
	h(assert.NoError(t, err))
	h(assert.Equal(t, ""+
		" EXTERNAL  PROTOCOL  DESTINATION \n"+
		" 40000     tcp       10.0.0.5:22 \n", app.stdout.String()))
}

func TestAppInvalidConfig(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 10*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	h(assert.NoError(t, vfs.WriteFile(app.fs, "/config.json",
		[]byte(`{"backup": {"schedule": "sometimes"}}`), 0o644)))

	err = app.Run("list")
	var serr *aerrors.StructuredError
	h(assert.True(t, errors.As(err, &serr)))
	h(assert.Equal(t, "invalid configuration", serr.Message()))
	h(assert.ErrorContains(t, serr.Cause(), "invalid backup.schedule"))
}
