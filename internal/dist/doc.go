// Package dist provides the distributed-memory primitives the solve
// pipeline is written against: striped solution vectors with single-owner
// lifetimes, the factory that allocates them over the locally-owned node
// range, and the collective communicator used to keep all ranks in
// lockstep around file I/O and error handling.
//
// The shipped communicator is sequential (one rank owning everything). The
// Comm interface is the seam where a real multi-process binding would plug
// in; everything above it already invokes barriers and error replication
// collectively.
package dist
