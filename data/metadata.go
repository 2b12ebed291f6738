package data

// RemoteObject is a single blob in the backing object store, addressed by a
// key relative to the disk's remote root.
type RemoteObject struct {
	Key  string
	Size uint64
}

// Metadata describes one logical file: the ordered list of remote objects
// holding its bytes, plus the bookkeeping needed to share that list across
// hard-linked paths.
//
// Consumers reassemble file content by object position, so Objects is strictly
// append-only and never reordered.
type Metadata struct {
	// RemoteRoot is the remote key prefix configured for the owning disk.
	// It is not serialized; legacy metadata files stored absolute keys and
	// the decoder uses RemoteRoot to strip them back to relative form.
	RemoteRoot string

	TotalSize uint64
	Objects   []RemoteObject

	// RefCount is the number of additional hard-linked paths sharing this
	// record beyond the original one. Zero means single reference.
	RefCount uint32

	// ReadOnly lives in the metadata file rather than in a filesystem
	// permission bit so it stays visible through every hard-linked path.
	ReadOnly bool
}

// NewMetadata returns an empty record for a freshly created file.
func NewMetadata(remoteRoot string) *Metadata {
	return &Metadata{RemoteRoot: remoteRoot}
}

// AddObject appends a remote object reference and grows the total size.
func (m *Metadata) AddObject(key string, size uint64) {
	m.TotalSize += size
	m.Objects = append(m.Objects, RemoteObject{Key: key, Size: size})
}
