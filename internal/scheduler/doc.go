// Package scheduler drives automatic view rotation. Each channel carries a
// single authoritative current view; timer fires, manual selections, and
// next/previous steps all funnel through that field, and a late timer whose
// target was superseded no-ops instead of fighting the newer write.
package scheduler
