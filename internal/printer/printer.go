// Package printer renders command output for terminals.
package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/starford/retroboard/internal/boardservice"
)

var (
	cyan  = color.New(color.FgCyan)
	green = color.New(color.FgGreen)
	faint = color.New(color.Faint)
)

// Boards writes one line per board: join code, creation date, name and role.
// Colors follow color.NoColor, which honours NO_COLOR and non-terminals.
func Boards(w io.Writer, list []boardservice.BoardSummary) error {
	if len(list) == 0 {
		_, err := faint.Fprintln(w, "No boards yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, b := range list {
		role := faint.Sprint("member")
		if b.IsAdmin {
			role = green.Sprint("admin")
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			cyan.Sprint(b.Code), b.CreatedAt.Format("2006-01-02"), b.Name, role); err != nil {
			return err
		}
	}
	return tw.Flush()
}
