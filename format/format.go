// Package format renders node responses as human-readable terminal
// output. Commands keep fetching and rendering separate by delegating
// all presentation to this package.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/samber/lo"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nodeglass/btcnode/node"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.FgCyan, color.Bold).SprintFunc()

	headerFmt = color.New(color.FgCyan, color.Underline).SprintfFunc()
)

// Thousand separators for counts, matching bitcoind's own CLI habits.
var printer = message.NewPrinter(language.English)

// Section prints a bold section title.
func Section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", bold(title))
}

// KV prints one indented key/value line.
func KV(w io.Writer, key string, value interface{}) {
	fmt.Fprintf(w, "  %s: %v\n", key, value)
}

// Fail prints a red failure line.
func Fail(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s\n", red("failed: "+msg))
}

// OK prints a green confirmation line.
func OK(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s\n", green(msg))
}

// Warn prints a yellow warning line.
func Warn(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s\n", yellow(msg))
}

// JSON writes v as an indented JSON document.
func JSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Comma formats n with thousand separators.
func Comma(n int64) string {
	return printer.Sprintf("%d", n)
}

// GB formats a byte count in gigabytes.
func GB(bytes int64) string {
	return fmt.Sprintf("%.2f GB", float64(bytes)/(1<<30))
}

// KB formats a byte count in kilobytes.
func KB(bytes int64) string {
	return fmt.Sprintf("%.2f KB", float64(bytes)/(1<<10))
}

// MB formats a byte count in megabytes.
func MB(bytes int64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/(1<<20))
}

// Percent formats a 0..1 progress value as a percentage.
func Percent(progress float64) string {
	return fmt.Sprintf("%.2f%%", progress*100)
}

// BTC formats a bitcoin amount, e.g. "1.5 BTC".
func BTC(value float64) string {
	amount, err := btcutil.NewAmount(value)
	if err != nil {
		return fmt.Sprintf("%f BTC", value)
	}
	return amount.String()
}

// Satoshis formats a bitcoin amount as a satoshi count.
func Satoshis(value float64) string {
	amount, err := btcutil.NewAmount(value)
	if err != nil {
		return "unknown"
	}
	return Comma(int64(amount)) + " sat"
}

// FeeRate converts a BTC/kvB fee rate to sat/vB.
func FeeRate(btcPerKvB float64) string {
	return fmt.Sprintf("%.2f sat/vB", btcPerKvB*1e5)
}

// Time formats a unix timestamp the way block explorers do.
func Time(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04:05 MST")
}

// PeerTable renders the connected peers as a table.
func PeerTable(w io.Writer, peers []btcjson.GetPeerInfoResult) {
	tbl := table.New("ID", "Address", "Subversion", "Direction", "Connected since").
		WithWriter(w).
		WithHeaderFormatter(headerFmt)

	for _, peer := range peers {
		tbl.AddRow(
			peer.ID,
			peer.Addr,
			peer.SubVer,
			lo.Ternary(peer.Inbound, "inbound", "outbound"),
			Time(peer.ConnTime),
		)
	}

	tbl.Print()
}

// BatchTable renders per-address results of a batch balance run.
func BatchTable(w io.Writer, result *node.BatchResult) {
	tbl := table.New("Address", "Balance", "UTXOs").
		WithWriter(w).
		WithHeaderFormatter(headerFmt)

	for _, row := range lo.Map(result.Addresses, func(b *node.AddressBalance, _ int) []interface{} {
		return []interface{}{b.Address, BTC(b.Balance), b.Count}
	}) {
		tbl.AddRow(row...)
	}

	tbl.Print()
}
