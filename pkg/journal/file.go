package journal

import (
	"fmt"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
)

// UnknownSequence is the end sequence of the log still being written.
const UnknownSequence uint64 = math.MaxUint64

const (
	logsDir        = "logs"
	checkpointsDir = "checkpoints"
	tmpDir         = ".tmp"
)

// FileKind classifies a journal artifact.
type FileKind int

const (
	KindCheckpoint FileKind = iota
	KindLog
	KindTemporaryCheckpoint
)

func (k FileKind) String() string {
	switch k {
	case KindCheckpoint:
		return "checkpoint"
	case KindLog:
		return "log"
	case KindTemporaryCheckpoint:
		return "temporary-checkpoint"
	default:
		return "unknown"
	}
}

// File is a journal artifact in storage. Entries with sequence numbers in
// [Start, End) are contained in it. Temporary checkpoints carry no range.
type File struct {
	Location string
	Kind     FileKind
	Start    uint64
	End      uint64
}

// Open reports whether the file is a log still being written.
func (f File) Open() bool {
	return f.Kind == KindLog && f.End == UnknownSequence
}

func (f File) String() string {
	if f.Kind == KindTemporaryCheckpoint {
		return fmt.Sprintf("%s(%s)", f.Kind, f.Location)
	}
	return fmt.Sprintf("%s[0x%x, 0x%x)(%s)", f.Kind, f.Start, f.End, f.Location)
}

// Snapshot is a point-in-time view of the journal artifacts. Checkpoints and
// Logs are sorted by Start ascending, ties broken by End.
type Snapshot struct {
	Checkpoints          []File
	Logs                 []File
	TemporaryCheckpoints []File
}

// LatestCheckpoint returns the checkpoint with the highest end sequence.
func (s *Snapshot) LatestCheckpoint() (File, bool) {
	var latest File
	found := false
	for _, cp := range s.Checkpoints {
		if !found || cp.End > latest.End {
			latest = cp
			found = true
		}
	}
	return latest, found
}

// CheckpointSequence returns the end of the latest checkpoint, or 0 when
// there is none.
func (s *Snapshot) CheckpointSequence() uint64 {
	if cp, ok := s.LatestCheckpoint(); ok {
		return cp.End
	}
	return 0
}

func sortFiles(files []File) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].Start != files[j].Start {
			return files[i].Start < files[j].Start
		}
		return files[i].End < files[j].End
	})
}

// Layout maps journal artifacts to storage keys below Root.
//
//	<root>/logs/0x<start>-0x<end>
//	<root>/checkpoints/0x<start>-0x<end>
//	<root>/.tmp/<uuid>
type Layout struct {
	Root string
}

func (l Layout) key(parts ...string) string {
	return path.Join(append([]string{l.Root}, parts...)...)
}

// Prefix returns the common prefix of every journal key.
func (l Layout) Prefix() string {
	if l.Root == "" {
		return ""
	}
	return strings.TrimSuffix(l.Root, "/") + "/"
}

// LogKey returns the key of the log covering [start, end).
func (l Layout) LogKey(start, end uint64) string {
	return l.key(logsDir, rangeName(start, end))
}

// CheckpointKey returns the key of the checkpoint covering [start, end).
func (l Layout) CheckpointKey(start, end uint64) string {
	return l.key(checkpointsDir, rangeName(start, end))
}

// TemporaryKey returns the key of a temporary checkpoint.
func (l Layout) TemporaryKey(name string) string {
	return l.key(tmpDir, name)
}

func rangeName(start, end uint64) string {
	return fmt.Sprintf("0x%x-0x%x", start, end)
}

// Parse classifies a storage key. ok is false for keys outside the layout.
func (l Layout) Parse(key string) (File, bool) {
	rel := strings.TrimPrefix(key, l.Prefix())
	if rel == key && l.Prefix() != "" {
		return File{}, false
	}

	dir, name := path.Split(rel)
	dir = strings.TrimSuffix(dir, "/")
	if name == "" {
		return File{}, false
	}

	switch dir {
	case tmpDir:
		return File{Location: key, Kind: KindTemporaryCheckpoint}, true
	case logsDir, checkpointsDir:
		start, end, err := parseRange(name)
		if err != nil {
			return File{}, false
		}
		kind := KindLog
		if dir == checkpointsDir {
			kind = KindCheckpoint
		}
		return File{Location: key, Kind: kind, Start: start, End: end}, true
	}
	return File{}, false
}

func parseRange(name string) (start, end uint64, err error) {
	lo, hi, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q", name)
	}
	if start, err = parseHex(lo); err != nil {
		return 0, 0, err
	}
	if end, err = parseHex(hi); err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("inverted range %q", name)
	}
	return start, end, nil
}

func parseHex(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") {
		return 0, fmt.Errorf("missing 0x prefix in %q", s)
	}
	return strconv.ParseUint(s[2:], 16, 64)
}
