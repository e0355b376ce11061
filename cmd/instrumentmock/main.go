// Package main runs simulated instruments for bench-free development.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lab-control/lcc/internal/instrumentmock"
)

func main() {
	psuAddr := flag.String("psu", ":5025", "Power supply simulator listen address (empty to disable)")
	sigAddr := flag.String("siggen", ":5026", "Signal generator simulator listen address (empty to disable)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting instrument simulators...")

	var servers []*instrumentmock.Server
	start := func(addr string, inst *instrumentmock.Instrument) {
		if addr == "" {
			return
		}
		srv := instrumentmock.NewServer(inst).WithLogging()
		if err := srv.Start(addr); err != nil {
			log.Fatalf("%s simulator failed: %v", inst.Model(), err)
		}
		log.Printf("%s simulator listening on %s", inst.Model(), srv.Addr())
		servers = append(servers, srv)
	}
	start(*psuAddr, instrumentmock.NewPowerSupply())
	start(*sigAddr, instrumentmock.NewSignalGenerator())
	if len(servers) == 0 {
		log.Fatal("No simulator enabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down simulators...")
	for _, srv := range servers {
		if err := srv.Close(); err != nil {
			log.Printf("Simulator shutdown error: %v", err)
		}
	}
	log.Println("Simulators stopped")
}
