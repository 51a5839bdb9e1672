package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clash-tidy/internal/clash"
	"github.com/clash-tidy/internal/config"
	"github.com/clash-tidy/internal/metrics"
	"github.com/clash-tidy/internal/prober"
	"github.com/clash-tidy/internal/profile"
	"github.com/clash-tidy/internal/status"
)

// ErrConfigLoad wraps a missing or unparseable configuration document.
var ErrConfigLoad = errors.New("configuration load failed")

// ErrNoGroups means the requested group subset matched nothing.
var ErrNoGroups = errors.New("no valid groups selected")

// ErrUnreachable means no control-plane candidate accepted a connection.
var ErrUnreachable = errors.New("control plane unreachable")

// Runner drives a full probe-and-rewrite run.
type Runner struct {
	opts    config.Options
	metrics *metrics.Collector
	tracker *status.Tracker
}

func New(opts config.Options, collector *metrics.Collector, tracker *status.Tracker) *Runner {
	return &Runner{opts: opts, metrics: collector, tracker: tracker}
}

// Run executes the whole flow: load the document, resolve the group
// selection, connect, probe each group, rewrite memberships, save
// once. The document is never written when ctx is canceled or any
// earlier step fails.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()

	store, err := profile.Load(r.opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigLoad, err)
	}

	available := store.GroupNames()
	selected := resolveGroups(r.opts.Groups, available)
	if len(selected) == 0 {
		log.Errorf("No valid groups to probe; available groups: %v", available)
		return ErrNoGroups
	}
	log.Infof("Probing groups: %v", selected)

	client := clash.NewClient(r.opts.Candidates(), r.opts.Secret, r.opts.TestURL,
		r.opts.TimeoutSeconds, r.opts.Concurrency)

	if !client.Connect(ctx) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrUnreachable
	}

	list, err := client.Proxies(ctx)
	if err != nil {
		return err
	}
	log.Infof("Control plane reports %d known endpoints", len(list.Proxies))

	var allResults []clash.Result
	groupResults := make(map[string][]clash.Result, len(selected))

	for _, group := range selected {
		members := store.GroupMembers(group)
		if len(members) == 0 {
			log.Warnf("Group %q has no endpoints, skipping", group)
			continue
		}

		r.tracker.BeginGroup(group, len(members))
		log.Infof("Probing group %q: %d endpoints, concurrency %d",
			group, len(members), r.opts.Concurrency)

		results := prober.Run(ctx, client, members, prober.Options{
			MaxRPS:  r.opts.MaxRPS,
			Metrics: r.metrics,
			OnProgress: func(done, total int) {
				r.tracker.Progress(done, total)
				fmt.Fprintf(os.Stdout, "\rprogress: %d/%d (%.1f%%)",
					done, total, float64(done)/float64(total)*100.0)
			},
		})
		fmt.Fprintln(os.Stdout)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		allResults = append(allResults, results...)
		groupResults[group] = results

		summary := summarize(group, results)
		r.tracker.FinishGroup(summary)
		r.metrics.RecordGroupProcessed()
		logSummary(summary, results)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	valid, invalid := tally(allResults)
	r.metrics.SetValidEndpoints(valid)
	r.metrics.SetInvalidEndpoints(invalid)

	r.tracker.SetPhase("updating")
	store.RemoveInvalid(allResults)
	for _, group := range selected {
		results, probed := groupResults[group]
		if !probed {
			continue
		}
		store.UpdateGroup(group, results)
		log.Infof("Reordered group %q by latency", group)
	}

	if err := store.Save(); err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}
	log.Infof("Configuration saved to %s", store.Path())

	r.tracker.SetPhase("done")
	log.Infof("Run complete in %.2fs", time.Since(start).Seconds())
	return nil
}

// resolveGroups intersects the requested subset with the groups the
// document actually defines, warning on unknown names. An empty
// request selects everything.
func resolveGroups(requested, available []string) []string {
	if len(requested) == 0 {
		return available
	}

	known := make(map[string]struct{}, len(available))
	for _, name := range available {
		known[name] = struct{}{}
	}

	var selected, unknown []string
	for _, name := range requested {
		if _, ok := known[name]; ok {
			selected = append(selected, name)
		} else {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		log.Warnf("Requested groups do not exist: %v", unknown)
	}
	return selected
}

func summarize(group string, results []clash.Result) status.GroupSummary {
	summary := status.GroupSummary{Name: group, Total: len(results)}
	var delaySum int64
	for _, r := range results {
		if r.Alive {
			summary.Valid++
			delaySum += r.DelayMs
		} else {
			summary.Invalid++
		}
	}
	if summary.Valid > 0 {
		summary.AvgDelayMs = float64(delaySum) / float64(summary.Valid)
	}
	return summary
}

func logSummary(summary status.GroupSummary, results []clash.Result) {
	log.Infof("Group %q: %d total, %d valid, %d invalid",
		summary.Name, summary.Total, summary.Valid, summary.Invalid)

	if summary.Valid > 0 {
		log.Infof("Average delay: %.2fms", summary.AvgDelayMs)

		fastest := make([]clash.Result, 0, summary.Valid)
		for _, r := range results {
			if r.Alive {
				fastest = append(fastest, r)
			}
		}
		sort.SliceStable(fastest, func(i, j int) bool {
			return fastest[i].DelayMs < fastest[j].DelayMs
		})
		if len(fastest) > 5 {
			fastest = fastest[:5]
		}
		for i, r := range fastest {
			log.Infof("  %d. %s: %dms", i+1, r.Name, r.DelayMs)
		}
	}

	if summary.Invalid > 0 {
		for _, r := range results {
			if !r.Alive {
				log.Infof("  dead: %s", r.Name)
			}
		}
	}
}

func tally(results []clash.Result) (valid, invalid int) {
	for _, r := range results {
		if r.Alive {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}
