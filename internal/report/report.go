// Package report renders the read-only administrative listings of payout
// records. It is diagnostic output only; nothing in the payout lifecycle
// depends on it.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ended/simplecoin-rpc-client/internal/payout"
	"github.com/ended/simplecoin-rpc-client/internal/wallet"
)

// summarizeLimit caps how many ids a log line spells out before collapsing
// the rest into a count.
const summarizeLimit = 9

// SummarizeIDs renders an id list as the first few entries plus a remainder
// count, keeping summary lines readable for large batches.
func SummarizeIDs(ids []string) string {
	if len(ids) <= summarizeLimit {
		return strings.Join(ids, ", ")
	}
	return fmt.Sprintf("%s... (%d more)", strings.Join(ids[:summarizeLimit], ", "), len(ids)-summarizeLimit)
}

// Render writes a titled table of payout records. Amounts are converted to
// display (coin) units here and nowhere else.
func Render(w io.Writer, title string, records []payout.Record) error {
	if _, err := fmt.Fprintf(w, "@@ %s @@\n", title); err != nil {
		return err
	}
	if len(records) == 0 {
		_, err := fmt.Fprint(w, "-- Nothing to display --\n\n")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tBENEFICIARY\tAMOUNT\tASSOCIATED\tLOCKED\tTXID")
	for _, rec := range records {
		txid := rec.TxID
		if txid == "" {
			txid = "NULL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%s\n",
			rec.ExternalID,
			rec.Beneficiary,
			wallet.FormatAmount(rec.Amount),
			rec.Associated,
			rec.Locked,
			txid)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
