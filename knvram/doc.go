// Package knvram manages named NVRAM partitions held in RAM and written back
// to a hardware backend on demand.
//
// # Overview
//
// Every partition keeps a shadow buffer with its authoritative contents.
// Reads and plain writes go to the shadow buffer; Sync pushes the whole buffer
// to the Backend. Partitions configured with transactions additionally own a
// transaction buffer of the same size. Writes inside a transaction land there
// and only reach the shadow buffer on Commit, so a transaction is atomic with
// respect to every other reader.
//
// # Key Types
//
//   - Registry: the set of partitions, looked up by name
//   - Partition: one named region with its shadow and transaction buffers
//   - Handle: an open session; its Flags parameterize every operation
//   - Backend: the io.ReaderAt/io.WriterAt a partition persists to
//
// # Transactions
//
// A transaction tracks the inclusive dirty range of the transaction buffer,
// aligned to the partition's page size. Before a write widens the range, the
// bytes of the new range not already valid are backfilled from shadow; commit
// then copies exactly the dirty range:
//
//	h, err := reg.Open("config", knvram.FlagWrite)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	if err := h.Begin(); err != nil {
//	    return err
//	}
//	if _, err := h.Write(data, 0x40); err != nil {
//	    h.Abort()
//	    return err
//	}
//	return h.Commit()
//
// A handle opened with FlagAutoT opens a transaction implicitly on its first
// write. Only one handle per partition may have a transaction open.
//
// # Locking
//
// Each partition has three locks, always taken in the order open lock,
// transaction lock, shadow lock. Handles opened with FlagNonblock never wait:
// a contended lock fails the operation with ErrWouldBlock.
//
// # Errors
//
// Operations return the sentinels in errors.go, usually wrapped with context.
// Test them with errors.Is.
package knvram
