// Package build reports the metadata linked into the binary with -ldflags -X.
package build

import (
	"fmt"
	"io"
	"runtime"

	"github.com/urfave/cli/v2"
)

var (
	Branch    string
	Version   string
	Revision  string
	BuildUser string
	BuildDate string
)

// Command returns the info command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "info displays build information of this binary",
		Action: func(c *cli.Context) error {
			return write(c.App.Writer)
		},
	}
}

func write(w io.Writer) error {
	_, err := fmt.Fprintf(w, `Branch:		%s
Version:	%s
Revision:	%s
BuildUser:	%s
BuildDate:	%s
GoVersion:	%s
`, orUnknown(Branch), orUnknown(Version), orUnknown(Revision), orUnknown(BuildUser), orUnknown(BuildDate), runtime.Version())
	return err
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
