package cli

import (
	"fmt"
	"io"
	"os"

	actx "go.hackfix.me/natmgr/app/context"
	aerrors "go.hackfix.me/natmgr/app/errors"
	"go.hackfix.me/natmgr/engine"
)

// Export writes the stored port mappings to a file.
type Export struct {
	File   string `arg:"" help:"Output file path, or '-' for stdout."`
	Format string `help:"Output format (json or yaml). Detected from the file extension by default."`
}

// Run the export command.
func (c *Export) Run(appCtx *actx.Context) (rerr error) {
	format, err := transferFormat(c.File, c.Format)
	if err != nil {
		return err
	}

	var w io.Writer = appCtx.Stdout
	if c.File != "-" {
		f, ferr := appCtx.FS.OpenFile(c.File, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
		if ferr != nil {
			return aerrors.NewWithCause("failed creating export file", ferr, "path", c.File)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && rerr == nil {
				rerr = aerrors.NewWithCause("failed closing export file", cerr, "path", c.File)
			}
		}()
		w = f
	}

	count, err := appCtx.Engine.Export(appCtx.Ctx, w, format)
	if err != nil {
		return err
	}

	if c.File != "-" {
		fmt.Fprintf(appCtx.Stdout, "Exported %d port mappings to %s\n", count, c.File)
	}

	return nil
}

// Import adds port mappings from a file written by export.
type Import struct {
	File   string `arg:"" help:"Input file path, or '-' for stdin."`
	Format string `help:"Input format (json or yaml). Detected from the file extension by default."`
}

// Run the import command.
func (c *Import) Run(appCtx *actx.Context) error {
	format, err := transferFormat(c.File, c.Format)
	if err != nil {
		return err
	}

	r := appCtx.Stdin
	if c.File != "-" {
		f, ferr := appCtx.FS.Open(c.File)
		if ferr != nil {
			return aerrors.NewWithCause("failed opening import file", ferr, "path", c.File)
		}
		defer f.Close()
		r = f
	}

	count, err := appCtx.Engine.Import(appCtx.Ctx, r, format)
	if err != nil {
		return err
	}

	fmt.Fprintf(appCtx.Stdout, "Imported %d port mappings from %s\n", count, c.File)

	return nil
}

func transferFormat(path, format string) (engine.Format, error) {
	switch engine.Format(format) {
	case "":
		return engine.FormatFromPath(path), nil
	case engine.FormatJSON, engine.FormatYAML:
		return engine.Format(format), nil
	}

	return "", aerrors.WithCause(aerrors.ErrInvalidArgument,
		fmt.Errorf("unsupported format '%s'", format))
}
