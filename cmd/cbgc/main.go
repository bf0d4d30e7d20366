// cbgc CLI - runs a synthetic workload against the hybrid collector and
// reports what it did
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/cbgc/config"
	"github.com/chazu/cbgc/gc"
	"github.com/chazu/cbgc/heapdump"
	"github.com/chazu/cbgc/history"
	"github.com/chazu/cbgc/server"
	"github.com/chazu/cbgc/vm"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	trace := flag.Bool("trace", false, "Log every collection (overrides gc.debug-tracing)")
	configDir := flag.String("config", ".", "Directory to search upward for cbgc.toml")
	iterations := flag.Int("n", 10000, "Workload iterations")
	globals := flag.Int("globals", 16, "Number of rotating globals the workload publishes into")
	cycleEvery := flag.Int("cycle-every", 0, "Leak a reference cycle every N iterations (0 disables)")
	historyPath := flag.String("history", "", "SQLite history database (overrides history.path)")
	showHistory := flag.Bool("show-history", false, "Print the per-run history summary and exit")
	dumpPath := flag.String("dump", "", "Write a CBOR heap dump to this file after the workload")
	serveMode := flag.Bool("serve", false, "Start the inspection server after the workload")
	servePort := flag.Int("port", 0, "Inspection server port (overrides server.port)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cbgc [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a synthetic mutator against the hybrid refcount/mark-sweep collector.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cbgc -n 100000 -trace              # Log each collection\n")
		fmt.Fprintf(os.Stderr, "  cbgc -cycle-every 50 -dump heap.cbor  # Leak cycles, dump the heap\n")
		fmt.Fprintf(os.Stderr, "  cbgc -history gc.db                # Record collections\n")
		fmt.Fprintf(os.Stderr, "  cbgc -history gc.db -show-history  # Compare recorded runs\n")
		fmt.Fprintf(os.Stderr, "\nInspection Server:\n")
		fmt.Fprintf(os.Stderr, "  cbgc --serve                       # Serve on :%d\n", config.DefaultPort)
		fmt.Fprintf(os.Stderr, "  cbgc --serve --port 8080\n")
	}
	flag.Parse()

	verbosity := 2
	if *verbose {
		verbosity = 4
	}
	if *trace {
		verbosity = 5
	}
	commonlog.Configure(verbosity, nil)

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
	} else if *verbose {
		fmt.Printf("Loaded %s from %s\n", config.FileName, cfg.Dir)
	}
	if *trace {
		cfg.GC.DebugTracing = true
	}
	if *historyPath != "" {
		cfg.History.Path = *historyPath
	}
	if *servePort != 0 {
		cfg.Server.Port = *servePort
	}

	var store *history.Store
	if path := cfg.HistoryPath(); path != "" {
		runID := uuid.NewString()
		store, err = history.Open(path, runID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		if *verbose {
			fmt.Printf("Recording collections to %s (run %s)\n", path, runID)
		}
	}

	if *showHistory {
		if store == nil {
			fmt.Fprintf(os.Stderr, "Error: -show-history needs a history database\n")
			os.Exit(1)
		}
		if err := printHistory(store); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	m := vm.NewMachine(cfg.Machine())
	if store != nil {
		store.Attach(m.Collector())
	}

	w := workload{iterations: *iterations, globals: *globals, cycleEvery: *cycleEvery}
	if err := w.run(m); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	final := m.Collect()
	printStats(m.Collector(), final)

	snap := m.Collector().Snapshot()
	if *dumpPath != "" {
		data, err := heapdump.MarshalSnapshot(snap)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*dumpPath, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing dump: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("Wrote heap dump (%d bytes) to %s\n", len(data), *dumpPath)
		}
	}
	if leaked := heapdump.LeakedCycles(heapdump.FromSnapshot(snap)); len(leaked) > 0 {
		fmt.Printf("Leaked cycles: %d objects unreachable but still counted\n", len(leaked))
	}

	if *serveMode {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		srv := server.New(m)
		if err := srv.ListenAndServe(addr); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	m.Shutdown()
}

func printStats(c *gc.Collector, final *gc.CollectStats) {
	fmt.Printf("Collections:     %d\n", c.CollectCount())
	fmt.Printf("Live objects:    %d\n", c.Live())
	fmt.Printf("Allocated bytes: %d\n", c.Allocated())
	fmt.Printf("Next threshold:  %d\n", c.Threshold())
	fmt.Printf("Final collect:   freed %d objects (%d bytes) in %s\n",
		final.ObjectsFreed, final.BytesFreed(), final.Duration)
}

func printHistory(store *history.Store) error {
	runs, err := store.Summarize()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCOLLECTIONS\tBYTES FREED\tTOTAL")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.RunID, r.Collections, r.BytesFreed, r.Total)
	}
	return tw.Flush()
}
