// Command hyveos-neighbours-helper is the privileged side-channel daemon of
// spec §6/§4.2's "neighbour side-channel client + server" split: it is the
// only process on a node with CAP_NET_ADMIN, and it exposes the kernel's
// link-layer neighbour table to the unprivileged hyveosd daemon over a local
// socket.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
	"github.com/p2p-industries/hyveos-sub001/internal/neighside"
)

func main() {
	socketPath := flag.String("socket-path", neighside.DefaultSocketPath, "unix socket to listen on")
	group := flag.String("group", "batman-neighbours", "group name to own the socket")
	logLevel := flag.String("log-level", "info", "log level: none,error,warn,info,debug,trace")
	flag.Parse()

	if err := hyvelog.SetLevel(*logLevel); err != nil {
		hyvelog.New().Warn("invalid log level, keeping default", "value", *logLevel, "err", err)
	}
	log := hyvelog.New("component", "neighbours-helper")

	srv := neighside.NewServer(netlinkSource{})

	gid := -1
	if g, err := lookupGroupID(*group); err != nil {
		log.Warn("group lookup failed, socket will keep default group ownership", "group", *group, "err", err)
	} else {
		gid = g
	}

	ln, err := srv.Listen(*socketPath, 0o660, gid)
	if err != nil {
		log.Crit("failed to listen", "socket", *socketPath, "err", err)
		os.Exit(1)
	}
	log.Info("listening", "socket", *socketPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		ln.Close()
	}()

	if err := srv.Serve(ln); err != nil {
		log.Info("listener closed", "err", err)
	}
}
