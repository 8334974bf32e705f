// Command ovctl is a minimal instrument probe: it opens a resource, sends a
// command, and prints the reply, grounded on
// original_source/examples/idn_query.c and a flag-driven diagnostic style.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/rjboer/openvisa/internal/logging"
	"github.com/rjboer/openvisa/visa"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	rsrc := flag.String("rsrc", "", "VISA resource string to open (e.g. TCPIP::192.168.1.50::inst0::INSTR)")
	cmd := flag.String("cmd", "*IDN?\n", "command to send (the reply is read and printed if it ends in '?')")
	find := flag.String("find", "", "search expression instead of opening a resource (e.g. 'TCPIP*')")
	timeout := flag.Duration("timeout", 5*time.Second, "per-operation timeout")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("[BOOT] %v", err)
	}
	logging.SetDefault(logging.New(level, logging.Text, logWriter{}))

	rm, err := visa.OpenDefaultRM()
	if err != nil {
		log.Fatalf("[BOOT] OpenDefaultRM failed: %v", err)
	}
	defer rm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *find != "" || *rsrc == "" {
		log.Printf("[FIND] searching for %q", *find)
		results, err := rm.FindResources(ctx, *find)
		if err != nil {
			log.Fatalf("[FIND] FindResources failed: %v", err)
		}
		if len(results) == 0 {
			log.Printf("[FIND] no resources found")
			return
		}
		for _, r := range results {
			log.Printf("[FIND] %s", r)
		}
		return
	}

	log.Printf("[OPEN] opening %s", *rsrc)
	sess, err := rm.Open(ctx, *rsrc, *timeout)
	if err != nil {
		log.Fatalf("[OPEN] Open failed: %v", err)
	}
	defer sess.Close()

	query := strings.HasSuffix(strings.TrimSpace(*cmd), "?")
	if query {
		reply, err := sess.Query(ctx, *cmd)
		if err != nil {
			log.Fatalf("[QUERY] %v", err)
		}
		log.Printf("[QUERY] reply: %q", reply)
		return
	}

	if err := sess.Printf(ctx, "%s", *cmd); err != nil {
		log.Fatalf("[WRITE] %v", err)
	}
	log.Printf("[WRITE] sent %q", *cmd)
}

// logWriter forwards the logging package's output to the standard logger's
// output stream. Forwarded lines keep the logging package's own timestamp in
// addition to the standard logger's prefix.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Print(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
