// Package worker balances a set of named workers — in this module,
// projector.Projector instances — across the members of a cluster, so
// that each projection is assigned to one process without a central
// scheduler. The assignment is advisory; exclusivity comes from the
// control store's lease.
package worker

import (
	"context"
	"sort"
	"time"

	"github.com/quintans/projector/internal/log"
)

// MemberWorkers is one cluster member's current worker assignment, as
// reported by Memberlister.List.
type MemberWorkers struct {
	Name    string
	Workers []string
}

// Memberlister is the cluster-membership collaborator: something that
// knows this process's own name, can list every member's current
// assignment, and can publish this process's own assignment back.
type Memberlister interface {
	Name() string
	List(context.Context) ([]MemberWorkers, error)
	Register(context.Context, []string) error
}

// Worker is anything balance can start and stop. *projector.Projector
// satisfies this directly.
type Worker interface {
	Name() string
	IsRunning() bool
	Start(context.Context) bool
	Stop()
}

// Balance runs forever, re-evaluating the cluster's worker assignment
// every heartbeat until ctx is cancelled. Each tick it computes this
// member's share of workers, starts/stops local workers to match, and
// registers the result with member.
func Balance(ctx context.Context, logger log.Logger, member Memberlister, workers []Worker, heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		if err := rebalance(ctx, member, workers); err != nil {
			logger.WithError(err).Warnf("error while balancing workers")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// rebalance recomputes this member's share of the worker set and
// starts or stops local workers to match it. Ownership of any given
// worker is decided deterministically: every known member name (this
// one included) is sorted, every worker name is sorted, and worker i
// belongs to member (i mod memberCount). Every member computes this
// independently from the same membership list and reaches the same
// answer without a negotiation round.
//
// This assignment is advisory, not a mutual-exclusion mechanism: if
// membership just changed, two members can briefly compute
// conflicting owners for the same worker. Actual exclusivity is
// enforced by the control store's lease (see control.LockManager) —
// a worker whose Start loses the lease race simply fails to acquire
// its lock and exits, and the next heartbeat's Register call corrects
// the membership view.
func rebalance(ctx context.Context, member Memberlister, workers []Worker) error {
	members, err := member.List(ctx)
	if err != nil {
		return err
	}

	names := memberNames(members, member.Name())
	mine := assignmentFor(member.Name(), names, workers)

	assigned := reconcile(ctx, workers, mine)
	return member.Register(ctx, assigned)
}

// memberNames returns every known member name, self included, sorted
// for a deterministic ownership order.
func memberNames(members []MemberWorkers, self string) []string {
	seen := map[string]bool{self: true}
	names := []string{self}
	for _, m := range members {
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// assignmentFor deals worker i (in sorted-name order) to
// names[i % len(names)], so every member's share differs by at most
// one worker and every worker has exactly one owner.
func assignmentFor(self string, names []string, workers []Worker) map[string]bool {
	workerNames := make([]string, len(workers))
	for i, w := range workers {
		workerNames[i] = w.Name()
	}
	sort.Strings(workerNames)

	owner := -1
	for i, n := range names {
		if n == self {
			owner = i
			break
		}
	}

	mine := make(map[string]bool, len(workerNames))
	for i, name := range workerNames {
		if i%len(names) == owner {
			mine[name] = true
		}
	}
	return mine
}

// reconcile starts workers this member now owns and stops workers it
// no longer owns, returning the names of everything left running
// locally, for Memberlister.Register.
func reconcile(ctx context.Context, workers []Worker, mine map[string]bool) []string {
	running := make([]string, 0, len(mine))
	for _, w := range workers {
		owned := mine[w.Name()]
		switch {
		case owned && w.IsRunning():
			running = append(running, w.Name())
		case owned && !w.IsRunning():
			if w.Start(ctx) {
				running = append(running, w.Name())
			}
		case !owned && w.IsRunning():
			w.Stop()
		}
	}
	return running
}
