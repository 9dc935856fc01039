package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/vmtrack/internal/config"
	"github.com/joshuapare/vmtrack/nmt"
	"github.com/joshuapare/vmtrack/nmt/eventlog"
	"github.com/joshuapare/vmtrack/nmt/metrics"
	"github.com/joshuapare/vmtrack/nmt/summary"
	"github.com/joshuapare/vmtrack/nmt/vmtracker"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

var (
	replayRegions  bool
	replayDetailed bool
	replayMetrics  bool
	replayJobs     int
)

func init() {
	cmd := newReplayCmd()
	cmd.Flags().BoolVar(&replayRegions, "regions", false, "List reserved regions and their committed bytes")
	cmd.Flags().BoolVar(&replayDetailed, "detailed", true, "Attribute ranges to call stacks")
	cmd.Flags().BoolVar(&replayMetrics, "metrics", false, "Print Prometheus metrics instead of the summary")
	cmd.Flags().IntVarP(&replayJobs, "jobs", "j", 0, "Streams replayed in parallel (default GOMAXPROCS)")
	rootCmd.AddCommand(cmd)
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <stream>...",
		Short: "Replay event streams and print accounting",
		Long: `The replay command feeds each event stream into its own tracker and
prints the per-tag reserved, committed and peak bytes once the stream ends.
Streams are text or msgpack; the format is detected from the file.

Example:
  vmtctl replay heap.events
  vmtctl replay a.events b.mp --regions
  vmtctl replay heap.events --json
  vmtctl replay heap.events --metrics`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("detailed") {
				cfg.Detailed = replayDetailed
			}
			return runReplay(cmd.Context(), cfg, args)
		},
	}
	return cmd
}

// TagRow is the accounting of one tag.
type TagRow struct {
	Tag       string `json:"tag"`
	Reserved  uint64 `json:"reserved"`
	Committed uint64 `json:"committed"`
	Peak      uint64 `json:"peak"`
}

// RegionRow is one reserved region.
type RegionRow struct {
	Base      uint64 `json:"base"`
	Size      uint64 `json:"size"`
	Tag       string `json:"tag"`
	Committed uint64 `json:"committed"`
	Stack     string `json:"stack,omitempty"`
}

// FileRow is the accounting of one tracked file.
type FileRow struct {
	Name string   `json:"name"`
	Tags []TagRow `json:"tags"`
}

// ReplayResult is everything reported for one stream.
type ReplayResult struct {
	Stream  string      `json:"stream"`
	Events  int         `json:"events"`
	Tags    []TagRow    `json:"tags"`
	Total   TagRow      `json:"total"`
	Files   []FileRow   `json:"files,omitempty"`
	Regions []RegionRow `json:"regions,omitempty"`
	Stats   nmt.Stats   `json:"stats"`

	tracker *nmt.Tracker
}

func tagRows(s *summary.Snapshot) []TagRow {
	var rows []TagRow
	s.Visit(func(t memtag.MemTag, c summary.Counters) bool {
		rows = append(rows, TagRow{Tag: t.ID(), Reserved: c.Reserved, Committed: c.Committed, Peak: c.Peak})
		return true
	})
	return rows
}

// replayStream runs one stream through a fresh tracker. The tracker is
// left open in the result; the caller shuts it down.
func replayStream(ctx context.Context, cfg config.Config, path string, regions bool) (*ReplayResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tr, err := nmt.New(cfg)
	if err != nil {
		return nil, err
	}
	rc, err := eventlog.Open(path)
	if err != nil {
		_ = tr.Shutdown()
		return nil, err
	}
	defer rc.Close()

	printVerbose("Replaying %s\n", path)
	n, err := eventlog.NewPlayer(tr).Run(rc)
	if err != nil {
		_ = tr.Shutdown()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	snap := tr.Snapshot()
	total := snap.Total()
	res := &ReplayResult{
		Stream:  path,
		Events:  n,
		Tags:    tagRows(&snap),
		Total:   TagRow{Tag: "total", Reserved: total.Reserved, Committed: total.Committed, Peak: total.Peak},
		Stats:   tr.Stats(),
		tracker: tr,
	}
	for _, f := range tr.Files() {
		res.Files = append(res.Files, FileRow{Name: f.Name, Tags: tagRows(&f.Summary)})
	}
	if regions {
		var rgns []vmtracker.ReservedMemoryRegion
		tr.VisitReservedRegions(func(r vmtracker.ReservedMemoryRegion) bool {
			rgns = append(rgns, r)
			return true
		})
		for _, r := range rgns {
			row := RegionRow{Base: r.Base, Size: r.Size, Tag: r.Tag.ID()}
			tr.VisitCommittedRegions(r, func(c vmtracker.CommittedMemoryRegion) bool {
				row.Committed += c.Size
				return true
			})
			if cfg.Detailed {
				if cs := tr.Stack(r.Stack); !cs.IsEmpty() {
					row.Stack = cs.String()
				}
			}
			res.Regions = append(res.Regions, row)
		}
	}
	return res, nil
}

// replayAll replays every stream concurrently and returns results in
// argument order.
func replayAll(ctx context.Context, cfg config.Config, paths []string, regions bool) ([]*ReplayResult, error) {
	results := make([]*ReplayResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	jobs := replayJobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(jobs)
	for i, path := range paths {
		g.Go(func() error {
			res, err := replayStream(ctx, cfg, path, regions)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		shutdownAll(results)
		return nil, err
	}
	return results, nil
}

func shutdownAll(results []*ReplayResult) {
	for _, res := range results {
		if res != nil {
			_ = res.tracker.Shutdown()
		}
	}
}

func runReplay(ctx context.Context, cfg config.Config, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	results, err := replayAll(ctx, cfg, paths, replayRegions)
	if err != nil {
		return err
	}
	defer shutdownAll(results)

	if replayMetrics {
		return writeMetrics(os.Stdout, results)
	}
	if jsonOut {
		return printJSON(results)
	}
	for _, res := range results {
		printResult(res)
	}
	return nil
}

func writeMetrics(w io.Writer, results []*ReplayResult) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, res := range results {
		reg := prometheus.NewRegistry()
		if _, err := metrics.Register(reg, res.tracker, prometheus.Labels{"stream": res.Stream}); err != nil {
			return err
		}
		families, err := reg.Gather()
		if err != nil {
			return err
		}
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return err
			}
		}
	}
	return nil
}

func printTagTable(indent string, rows []TagRow) {
	printInfo("%s%-22s %12s %12s %12s\n", indent, "Tag", "Reserved", "Committed", "Peak")
	for _, r := range rows {
		printInfo("%s%-22s %12s %12s %12s\n", indent, r.Tag,
			humanize.IBytes(r.Reserved), humanize.IBytes(r.Committed), humanize.IBytes(r.Peak))
	}
}

func printResult(res *ReplayResult) {
	printInfo("\nStream: %s\n", res.Stream)
	printInfo("%s\n", strings.Repeat("=", 40))
	printInfo("Events: %s\n\n", humanize.Comma(int64(res.Events)))

	printTagTable("", append(res.Tags, res.Total))

	for _, f := range res.Files {
		printInfo("\nFile %s:\n", f.Name)
		printTagTable("  ", f.Tags)
	}

	if len(res.Regions) > 0 {
		printInfo("\nReserved Regions:\n")
		for _, r := range res.Regions {
			printInfo("  [0x%X - 0x%X] %s reserved, %s committed for %s\n",
				r.Base, r.Base+r.Size, humanize.IBytes(r.Size), humanize.IBytes(r.Committed), r.Tag)
			if r.Stack != "" {
				for _, line := range strings.Split(r.Stack, "\n") {
					printInfo("      %s\n", line)
				}
			}
		}
	}

	printVerbose("\nBoundaries: %d, stacks: %d (dropped %d, contended %d), files: %d\n",
		res.Stats.Boundaries, res.Stats.Stacks, res.Stats.StacksDropped, res.Stats.StacksContended, res.Stats.Files)
}
