// Command tracker runs the announce rendezvous service.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/ovidlat/goswarm/config"
	"github.com/ovidlat/goswarm/tracker"
)

func main() {
	port := flag.Uint("port", 6969, "TCP port to listen on")
	postgresDSN := flag.String("postgres-dsn", "", "optional Postgres DSN for the announce audit log")
	flag.Parse()
	if flag.NArg() > 0 {
		p, err := strconv.ParseUint(flag.Arg(0), 10, 16)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tracker: invalid port %q\n", flag.Arg(0))
			os.Exit(2)
		}
		*port = uint(p)
		flag.CommandLine.Parse(flag.Args()[1:])
	}

	cfg := config.New(uint16(*port))

	var sink tracker.AnnounceSink
	if *postgresDSN != "" {
		pg, err := tracker.NewPostgresSink(*postgresDSN)
		if err != nil {
			cfg.Log.WithError(err).Fatal("failed to connect to postgres announce sink")
		}
		defer pg.Close()
		sink = pg
	}

	t := tracker.New(cfg, sink)
	defer t.Close()

	addr := fmt.Sprintf(":%d", *port)
	cfg.Log.WithField("addr", addr).Info("tracker listening")
	cfg.Log.WithField("announce", fmt.Sprintf("http://localhost:%d/announce", *port)).Info("announce url")
	cfg.Log.WithField("stats", fmt.Sprintf("http://localhost:%d/stats", *port)).Info("stats url")

	if err := http.ListenAndServe(addr, t.Router()); err != nil {
		cfg.Log.WithError(err).Fatal("tracker server exited")
	}
}
