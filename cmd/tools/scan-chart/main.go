// Command scan-chart renders an archived scan session from the sqlite
// archive as a standalone HTML chart, or lists the archived sessions.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tandem-aerosol/tandemscan/internal/recorder"
)

var (
	dbPath  = flag.String("db", "scans.db", "Scan archive database")
	session = flag.String("session", "", "Session ID to chart (default: most recent)")
	out     = flag.String("out", "scan.html", "Output HTML file")
	list    = flag.Bool("list", false, "List archived sessions and exit")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scan-chart: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	db, err := recorder.OpenDB(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.Sessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return fmt.Errorf("no sessions in %s", *dbPath)
	}

	if *list {
		for _, s := range sessions {
			fmt.Printf("%s\t%s\t%d points\n", s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.Points)
		}
		return nil
	}

	id := *session
	if id == "" {
		id = sessions[0].ID
	}

	points, err := db.Points(id)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return fmt.Errorf("session %s has no points", id)
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := recorder.WriteChart(f, "tandem scan "+id, points); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d points)\n", *out, len(points))
	return nil
}
