package badger

// Key layout
// ==========
//
//	Data Type       Prefix   Key Format        Value
//	=====================================================
//	Directory       "n:"     n:<clean path>    nodeData (JSON)
//	ID sequence     "seq:"   seq:node          badger.Sequence state
//
// Paths are stored cleaned and absolute, so every directory below /a/b is a
// key with prefix "n:/a/b/". "/" itself is never stored: it always exists and
// always has namespace.RootID.

const (
	prefixNode  = "n:"
	sequenceKey = "seq:node"

	// sequenceBandwidth is the number of IDs leased from Badger at a time.
	sequenceBandwidth = 128
)

func nodeKey(path string) []byte {
	return []byte(prefixNode + path)
}

// childrenPrefix returns the scan prefix of every directory below path.
func childrenPrefix(path string) []byte {
	if path == "/" {
		return []byte(prefixNode + "/")
	}
	return []byte(prefixNode + path + "/")
}

func pathFromKey(key []byte) string {
	return string(key[len(prefixNode):])
}
