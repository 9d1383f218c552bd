package client

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// PrintSummary renders the final tx/rx/loss/timeout/RTT summary as a
// bordered table.
func PrintSummary(w io.Writer, snap Snapshot) {
	fmt.Fprintf(w, "\n--- ping statistics ---\n")

	table := tablewriter.NewWriter(w)
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetHeader([]string{"tx", "rx", "lost", "timeout", "loss", "min", "avg", "max"})
	table.Append([]string{
		fmt.Sprintf("%d", snap.TxCount),
		fmt.Sprintf("%d", snap.RxCount),
		fmt.Sprintf("%d", snap.LostCount),
		fmt.Sprintf("%d", snap.TimeoutCount),
		fmt.Sprintf("%.0f%%", snap.LossPercent()),
		snap.Min.String(),
		snap.Avg.String(),
		snap.Max.String(),
	})
	table.Render()
}
