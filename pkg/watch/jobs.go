package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/delta"
	"github.com/Sriram-PR/sitemap-builder/pkg/orchestrate"
)

// Job names
const (
	JobDeltaEmit  = "delta-emit"
	JobCleanup    = "delta-cleanup"
	JobRegenerate = "regenerate"
)

// DeltaEmitJob writes the current day's delta sitemap, including yesterday's changes when no
// run emitted them
func DeltaEmitJob(svc *delta.Service, interval time.Duration) Job {
	return Job{
		Name:     JobDeltaEmit,
		Interval: interval,
		Run: func(ctx context.Context) (Outcome, error) {
			res, err := svc.EmitPending(ctx)
			if err != nil {
				return Outcome{}, err
			}
			if !res.Emitted {
				return Outcome{Detail: "no changes for " + res.Date}, nil
			}
			return Outcome{Items: int64(res.URLCount), Detail: res.Path}, nil
		},
	}
}

// CleanupJob applies hash and delta retention
func CleanupJob(svc *delta.Service, interval time.Duration) Job {
	return Job{
		Name:     JobCleanup,
		Interval: interval,
		Run: func(ctx context.Context) (Outcome, error) {
			res, err := svc.Cleanup(ctx)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{
				Items:  int64(res.Hashes + res.Deltas),
				Detail: fmt.Sprintf("%d hashes, %d delta entries", res.Hashes, res.Deltas),
			}, nil
		},
	}
}

// RegenerateJob regenerates and optionally publishes the named nodes. publisher may be nil.
func RegenerateJob(gen orchestrate.Generator, nodes []string, publisher orchestrate.Publisher, interval time.Duration, log *logrus.Entry) Job {
	return Job{
		Name:     JobRegenerate,
		Interval: interval,
		Run: func(ctx context.Context) (Outcome, error) {
			o := orchestrate.NewOrchestrator(ctx, gen, nodes, publisher, log)
			var urls int64
			var failed []string
			for _, r := range o.Run() {
				urls += int64(r.URLs)
				if !r.Success {
					failed = append(failed, r.Node)
				}
			}
			out := Outcome{Items: urls, Detail: strings.Join(nodes, ",")}
			if len(failed) > 0 {
				return out, fmt.Errorf("%d/%d nodes failed: %s", len(failed), len(nodes), strings.Join(failed, ", "))
			}
			return out, nil
		},
	}
}
