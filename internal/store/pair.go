package store

// Pair is one entry of the flat snapshot representation. Every mutable
// treasury index serializes to (kind, key, value) rows and is rebuilt into
// its live form on restart.
type Pair struct {
	Kind  string
	Key   string
	Value []byte
}
