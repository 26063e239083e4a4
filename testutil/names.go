// Package testutil holds small helpers shared by this module's test files.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/handika51/dispatchcore/shm"
)

var counter atomic.Uint64

// UniqueNames returns a fresh set of shm.Names derived from tag (typically
// t.Name()), so tests that create a real SharedRegion never collide with
// each other or with a leftover object from a previous run.
func UniqueNames(tag string) shm.Names {
	n := counter.Add(1)
	safe := strings.NewReplacer("/", "_", " ", "_").Replace(tag)
	return shm.Names{
		Region:  fmt.Sprintf("/dch_test_%s_%d_region", safe, n),
		SemReq:  fmt.Sprintf("/dch_test_%s_%d_req", safe, n),
		SemResp: fmt.Sprintf("/dch_test_%s_%d_resp", safe, n),
	}
}
