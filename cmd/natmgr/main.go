package main

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"go.hackfix.me/natmgr/app"
	actx "go.hackfix.me/natmgr/app/context"
	aerrors "go.hackfix.me/natmgr/app/errors"
)

func main() {
	privileged := os.Geteuid() == 0
	configFile, dataDir := defaultPaths(privileged)

	a, err := app.New("natmgr", configFile, dataDir,
		app.WithEnv(osEnv{}),
		app.WithFDs(
			os.Stdin,
			colorable.NewColorable(os.Stdout),
			colorable.NewColorable(os.Stderr),
		),
		app.WithFS(osfs.New()),
		app.WithLogger(
			isatty.IsTerminal(os.Stdout.Fd()),
			isatty.IsTerminal(os.Stderr.Fd()),
		),
		app.WithPrivileged(privileged),
	)
	if err != nil {
		aerrors.Log(err)
		os.Exit(1)
	}
	if err = a.Run(os.Args[1:]); err != nil {
		aerrors.Log(err)
		os.Exit(1)
	}
}

// defaultPaths returns the default configuration file and data directory. The
// system-wide locations are used when running as root, since that's how the
// tool normally runs on a NAT gateway.
func defaultPaths(privileged bool) (configFile, dataDir string) {
	if privileged {
		return "/etc/natmgr/config.json", "/var/lib/natmgr"
	}

	return filepath.Join(xdg.ConfigHome, "natmgr", "config.json"),
		filepath.Join(xdg.DataHome, "natmgr")
}

type osEnv struct{}

var _ actx.Environment = &osEnv{}

func (e osEnv) Get(key string) string {
	return os.Getenv(key)
}

func (e osEnv) Set(key, val string) error {
	return os.Setenv(key, val)
}
