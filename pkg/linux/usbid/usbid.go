//go:build linux

package usbid

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists the standard locations of the usb.ids database on
// Linux distributions, in search order.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// DB resolves USB vendor and product identifiers to their registered
// names. The database file is parsed lazily on first lookup; lookups on a
// missing database simply return empty strings. Safe for concurrent use.
type DB struct {
	once     sync.Once
	paths    []string
	vendors  map[uint16]string
	products map[uint32]string
}

// Open returns a database backed by the first readable path, or the
// standard locations when none are given.
func Open(paths ...string) *DB {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	return &DB{paths: paths}
}

// Vendor returns the registered name for a vendor id, or "" if unknown.
func (db *DB) Vendor(vid uint16) string {
	db.load()
	return db.vendors[vid]
}

// Product returns the registered name for a vendor/product pair, or "" if
// unknown.
func (db *DB) Product(vid, pid uint16) string {
	db.load()
	return db.products[productKey(vid, pid)]
}

func productKey(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}

func (db *DB) load() {
	db.once.Do(func() {
		db.vendors = make(map[uint16]string)
		db.products = make(map[uint32]string)
		for _, path := range db.paths {
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			db.parse(f)
			f.Close()
			return
		}
	})
}

// parse reads the usb.ids format: vendor lines are "vvvv  name" at column
// zero, product lines are "\tpppp  name" under the preceding vendor. The
// trailing class/subclass tables and other indented sections do not match
// either shape and end vendor scope.
func (db *DB) parse(r io.Reader) {
	sc := bufio.NewScanner(r)
	var vid uint16
	inVendor := false

	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		indented := line[0] == '\t'
		if indented {
			if !inVendor {
				continue
			}
			if pid, name, ok := splitEntry(line[1:]); ok {
				db.products[productKey(vid, uint16(pid))] = name
			}
			continue
		}

		id, name, ok := splitEntry(line)
		if !ok {
			inVendor = false
			continue
		}
		vid = uint16(id)
		inVendor = true
		db.vendors[vid] = name
	}
}

// splitEntry splits a "xxxx  name" line into its hex id and name.
func splitEntry(line string) (uint64, string, bool) {
	if len(line) < 6 || line[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimSpace(line[4:])
	if name == "" {
		return 0, "", false
	}
	return id, name, true
}
