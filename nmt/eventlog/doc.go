// Package eventlog reads and writes streams of memory mapping events and
// replays them against a tracker.
//
// # Overview
//
// An event stream is a recording of the notifications a runtime would make.
// Streams are used to reproduce accounting problems offline and to drive
// the vmtctl tool.
//
// # Text Format
//
// One event per line. Blank lines and lines starting with '#' are ignored.
// Numbers are decimal or 0x-prefixed hexadecimal. Tags use the short
// identifiers of package memtag.
//
//	reserve    ADDR SIZE TAG [stack=PC,PC...]
//	commit     ADDR SIZE [stack=PC,PC...]
//	uncommit   ADDR SIZE
//	release    ADDR SIZE
//	retag      ADDR SIZE OLDTAG NEWTAG
//	split      ADDR SIZE OFFSET TAG SPLITTAG
//	file-alloc NAME OFFSET SIZE TAG [stack=PC,PC...]
//	file-free  NAME OFFSET SIZE
//	file-close NAME
//
// # Binary Format
//
// A msgpack stream: one Header value followed by one value per event.
// Readers reject headers with an unknown schema version.
package eventlog
