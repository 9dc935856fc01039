package vmatree

import (
	"testing"

	"github.com/joshuapare/vmtrack/pkg/memtag"
)

const benchPage = 4096

// Benchmark_ReserveCommitRelease measures a full mapping lifecycle on a
// tree holding 1024 unrelated reservations.
func Benchmark_ReserveCommitRelease(b *testing.B) {
	tree := New()
	md := RegionData{Stack: si0, Tag: memtag.GC}
	for i := range uint64(1024) {
		tree.ReserveMapping(i*64*benchPage, 16*benchPage, md)
	}
	base := uint64(1 << 40)

	b.ResetTimer()
	for range b.N {
		tree.ReserveMapping(base, 16*benchPage, md)
		tree.CommitMapping(base+4*benchPage, 4*benchPage, md, true)
		tree.ReleaseMapping(base, 16*benchPage)
	}
}

// Benchmark_StateAt measures point lookups over interleaved committed pages.
func Benchmark_StateAt(b *testing.B) {
	tree := New()
	md := RegionData{Stack: si0, Tag: memtag.Code}
	tree.ReserveMapping(0, 4096*benchPage, md)
	for i := uint64(0); i < 4096; i += 2 {
		tree.CommitMapping(i*benchPage, benchPage, md, true)
	}

	b.ResetTimer()
	for i := range b.N {
		_ = tree.StateAt(uint64(i%4096) * benchPage)
	}
}

// Benchmark_SetTag measures retagging a region split into many spans.
func Benchmark_SetTag(b *testing.B) {
	tree := New()
	md := RegionData{Stack: si0, Tag: memtag.GC}
	tree.ReserveMapping(0, 256*benchPage, md)
	for i := uint64(0); i < 256; i += 4 {
		tree.CommitMapping(i*benchPage, benchPage, md, true)
	}
	tags := [2]memtag.MemTag{memtag.Code, memtag.GC}

	b.ResetTimer()
	for i := range b.N {
		tree.SetTag(0, 256*benchPage, tags[i%2])
	}
}
