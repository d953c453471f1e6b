package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints the live out-of-range entries from the state document.
func (a *App) Show(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	doc, err := store.Load(ctx)
	if err != nil {
		return err
	}

	entries := doc.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "no out-of-range positions")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "User\tNetwork\tProtocol\tTokenID\tPool\tRange\tTick\tDetected (UTC)")

	for _, e := range entries {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s/%s\t[%d, %d]\t%d\t%s\n",
			e.User,
			e.Network,
			e.Protocol,
			e.PositionID,
			shortAddr(e.Token0),
			shortAddr(e.Token1),
			e.TickLower,
			e.TickUpper,
			e.CurrentTick,
			e.DetectedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
