package dist

// Comm is the collective communicator shared by every component that
// performs synchronized operations. All methods must be called by every
// rank, in the same order, or the computation deadlocks; that contract is
// the caller's to honour.
type Comm interface {
	Rank() int
	Size() int

	// IsMaster reports whether this rank is the one designated to own
	// aggregated file I/O (format conversion, report printing).
	IsMaster() bool

	// Barrier blocks until every rank has reached the barrier with the
	// same tag.
	Barrier(tag string)

	// ReplicateError aggregates a locally-detected error across all
	// ranks so that every rank takes the same branch afterwards. It
	// returns nil only if no rank reported an error.
	ReplicateError(err error) error
}

// SeqComm is the single-process communicator. Barriers are no-ops and
// error replication is the identity.
type SeqComm struct{}

func (SeqComm) Rank() int          { return 0 }
func (SeqComm) Size() int          { return 1 }
func (SeqComm) IsMaster() bool     { return true }
func (SeqComm) Barrier(tag string) {}

func (SeqComm) ReplicateError(err error) error { return err }
