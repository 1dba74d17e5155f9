package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	MutationObserved("columns", "create", "committed")
	MutationObserved("columns", "create", "committed")
	RollbackObserved("videos", "delete")
	CacheLookup("columns", "hit")
	ResolutionObserved("member")
	ObserveRemote("data.select", 200, time.Now())

	if got := testutil.ToFloat64(syncMutations.WithLabelValues("columns", "create", "committed")); got != 2 {
		t.Errorf("sync_mutations_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(syncRollbacks.WithLabelValues("videos", "delete")); got != 1 {
		t.Errorf("sync_rollbacks_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(cacheLookups.WithLabelValues("columns", "hit")); got != 1 {
		t.Errorf("sync_cache_lookups_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(identityResolutions.WithLabelValues("member")); got != 1 {
		t.Errorf("identity_resolutions_total = %v, want 1", got)
	}
}
