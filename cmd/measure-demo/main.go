package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"

	measure "github.com/behrlich/go-measure"
	"github.com/behrlich/go-measure/internal/logging"
	"github.com/behrlich/go-measure/internal/profiletree"
)

// measure-demo drives the measurement core with a synthetic workload
// and prints the resulting call-path profile plus the run statistics.

func main() {
	var (
		iterations = flag.Int("n", 100, "Workload iterations")
		verbose    = flag.Bool("v", false, "Verbose output")
		leak       = flag.Bool("leak", false, "Leave allocations unfreed to exercise leak reporting")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logConfig))

	cfg, err := measure.ConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	prof := measure.NewProfiling(0)
	rt, err := measure.NewRuntime(measure.Options{
		Config:     cfg,
		Substrates: []measure.Substrate{prof},
	})
	if err != nil {
		log.Fatalf("Runtime setup failed: %v", err)
	}

	if err := rt.Begin(); err != nil {
		log.Fatalf("Begin failed: %v", err)
	}

	defs := rt.Definitions()
	mainRegion := defs.NewRegion("main", "", measure.InvalidSourceFile, 1, 80,
		measure.RegionParadigmUser, measure.RoleFunction)
	computeRegion := defs.NewRegion("compute", "", measure.InvalidSourceFile, 90, 140,
		measure.RegionParadigmUser, measure.RoleFunction)
	ioRegion := defs.NewRegion("write_results", "", measure.InvalidSourceFile, 150, 180,
		measure.RegionParadigmUser, measure.RoleFunction)

	io := rt.IoManager()
	io.RegisterParadigm(measure.IoParadigmPosix, "POSIX I/O", 4)

	loc := rt.NewLocation(nil)
	tracker := rt.MemoryTracker()
	rng := rand.New(rand.NewSource(42))

	loc.EnterRegion(mainRegion)
	for i := 0; i < *iterations; i++ {
		loc.EnterRegion(computeRegion)
		addr := uint64(0x10000 + i*64)
		if tracker != nil {
			tracker.HandleAlloc(addr, uint64(16+rng.Intn(256)))
		}
		busyWork(rng)
		if tracker != nil && !*leak {
			if alloc := tracker.AcquireAlloc(addr); alloc != nil {
				tracker.HandleFree(alloc)
			}
		}
		loc.ExitRegion(computeRegion)
	}

	loc.EnterRegion(ioRegion)
	file := io.GetIoFileHandle("/tmp/measure-demo.out")
	io.BeginHandleCreation(loc.IoLocation(), measure.IoParadigmPosix, 0, 0, "open")
	fd := []byte{3, 0, 0, 0}
	handle := io.CompleteHandleCreation(loc.IoLocation(), measure.IoParadigmPosix, file, 0, fd)
	if handle != nil {
		io.Remove(measure.IoParadigmPosix, fd)
	}
	loc.ExitRegion(ioRegion)
	loc.ExitRegion(mainRegion)

	if err := rt.End(); err != nil {
		log.Fatalf("End failed: %v", err)
	}

	root := prof.MergeLocations()
	fmt.Println("call-path profile:")
	printTree(defs, root, 0)

	if err := rt.Finalize(); err != nil {
		log.Fatalf("Finalize failed: %v", err)
	}

	snap := rt.Stats().Snapshot()
	fmt.Printf("\nevents: %d (%.0f/s)  enters=%d exits=%d allocs=%d frees=%d leaked=%d\n",
		snap.TotalEvents, snap.EventsPerSec,
		snap.Enters, snap.Exits, snap.Allocs, snap.Frees, snap.Leaked)
	fmt.Printf("timer: %s resolution=%d ticks/s global=%v\n",
		cfg.Timer, rt.ClockResolution(), rt.ClockIsGlobal())

	os.Exit(0)
}

// busyWork burns a few microseconds so the profile has non-trivial
// times.
func busyWork(rng *rand.Rand) {
	sum := 0
	for i := 0; i < 1000+rng.Intn(1000); i++ {
		sum += i * i
	}
	_ = sum
}

func printTree(defs *measure.Definitions, node *profiletree.Node, depth int) {
	if node == nil {
		return
	}
	name := "<root>"
	if node.Type() == profiletree.NodeRegion {
		name = defs.RegionName(measure.RegionHandle(node.TypeData().Handle))
	}
	fmt.Printf("%s%-24s count=%-6d incl=%-12d excl=%d\n",
		strings.Repeat("  ", depth), name, node.Count(),
		node.InclusiveTime().Sum, profiletree.ExclusiveTime(node))
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		printTree(defs, child, depth+1)
	}
}
