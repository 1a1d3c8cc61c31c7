package knvram

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory Backend with injectable failures.
type fakeBackend struct {
	mu        sync.Mutex
	data      []byte
	readErr   error
	writeErr  error
	shortRead bool
	writes    int
}

func newFakeBackend(size int, fill byte) *fakeBackend {
	return &fakeBackend{data: bytes.Repeat([]byte{fill}, size)}
}

func (f *fakeBackend) ReadAt(b []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(b, f.data[off:])
	if f.shortRead {
		n /= 2
	}
	return n, nil
}

func (f *fakeBackend) WriteAt(b []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes++
	return copy(f.data[off:], b), nil
}

func (f *fakeBackend) snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Clone(f.data)
}

func (f *fakeBackend) failWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// pattern returns n bytes where byte i is i mod 251.
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func setupPartition(t *testing.T, size int, tx bool) (*Registry, *Partition, *fakeBackend) {
	t.Helper()
	be := &fakeBackend{data: pattern(size)}
	reg := NewRegistry(nil)
	p, err := reg.Add(Config{
		Name:         "test",
		Size:         size,
		Transactions: tx,
		PageSize:     128,
		Backend:      be,
	})
	require.NoError(t, err)
	return reg, p, be
}

// =============================================================================
// Registration
// =============================================================================

func TestRegistry_AddReadsShadow(t *testing.T) {
	_, p, be := setupPartition(t, 512, false)

	require.Equal(t, "test", p.Name())
	require.Equal(t, int64(512), p.Size())
	require.False(t, p.Transactional())
	require.Equal(t, 0, p.PageSize())
	require.Equal(t, be.snapshot(), p.shadow)
}

func TestRegistry_AddDuplicate(t *testing.T) {
	reg, _, _ := setupPartition(t, 64, false)

	_, err := reg.Add(Config{Name: "test", Size: 64, Backend: newFakeBackend(64, 0)})
	require.ErrorIs(t, err, ErrBusy)
	require.Len(t, reg.Partitions(), 1)
}

func TestRegistry_AddInvalid(t *testing.T) {
	reg := NewRegistry(nil)
	be := newFakeBackend(64, 0)

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"empty name", Config{Size: 64, Backend: be}, ErrInvalidArgument},
		{"long name", Config{Name: string(bytes.Repeat([]byte{'n'}, 32)), Size: 64, Backend: be}, ErrInvalidArgument},
		{"zero size", Config{Name: "z", Backend: be}, ErrInvalidArgument},
		{"huge", Config{Name: "h", Size: MaxSize + 1, Backend: be}, ErrOutOfMemory},
		{"no backend", Config{Name: "b", Size: 64}, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Add(tt.cfg)
			require.ErrorIs(t, err, tt.want)
		})
	}
	require.Empty(t, reg.Partitions())
}

func TestRegistry_AddReadFailureUnwinds(t *testing.T) {
	reg := NewRegistry(nil)
	be := newFakeBackend(64, 0)
	be.readErr = errors.New("bus error")

	_, err := reg.Add(Config{Name: "bad", Size: 64, Backend: be})
	require.ErrorIs(t, err, ErrHardwareIO)

	be.readErr = nil
	be.shortRead = true
	_, err = reg.Add(Config{Name: "bad", Size: 64, Backend: be})
	require.ErrorIs(t, err, ErrHardwareIO)

	_, err = reg.Lookup("bad")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_InvalidPageSizeFallsBack(t *testing.T) {
	for _, ps := range []int{0, -8, 100, 3} {
		reg := NewRegistry(nil)
		p, err := reg.Add(Config{Name: "p", Size: 1024, Transactions: true, PageSize: ps, Backend: newFakeBackend(1024, 0)})
		require.NoError(t, err)
		require.Equal(t, DefaultPageSize, p.PageSize(), "pagesize %d", ps)
	}

	reg := NewRegistry(nil)
	p, err := reg.Add(Config{Name: "p", Size: 1024, Transactions: true, PageSize: 1, Backend: newFakeBackend(1024, 0)})
	require.NoError(t, err)
	require.Equal(t, 1, p.PageSize())
}

func TestRegistry_Open(t *testing.T) {
	reg, _, _ := setupPartition(t, 64, false)

	_, err := reg.Open("missing", 0)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = reg.Open(string(bytes.Repeat([]byte{'n'}, 32)), 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	h, err := reg.Open("test", FlagUser)
	require.NoError(t, err)
	require.Equal(t, FlagUser, h.Flags())
	require.NoError(t, h.Close())
}

func TestRegistry_RemoveBusyThenGone(t *testing.T) {
	reg, p, _ := setupPartition(t, 64, false)

	h, err := p.Open(0)
	require.NoError(t, err)
	require.ErrorIs(t, reg.Remove("test"), ErrBusy)

	require.NoError(t, h.Close())
	require.NoError(t, reg.Remove("test"))

	_, err = reg.Open("test", 0)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = p.Open(0)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, reg.Remove("test"), ErrNotFound)
}

func TestRegistry_SyncAllAggregates(t *testing.T) {
	reg := NewRegistry(nil)
	good := newFakeBackend(32, 1)
	bad := newFakeBackend(32, 2)
	_, err := reg.Add(Config{Name: "good", Size: 32, Backend: good})
	require.NoError(t, err)
	_, err = reg.Add(Config{Name: "bad", Size: 32, Backend: bad})
	require.NoError(t, err)

	bad.failWrites(errors.New("flash timeout"))
	err = reg.SyncAll(context.Background())
	require.ErrorIs(t, err, ErrHardwareIO)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 1)
	require.Equal(t, 1, good.writes)
}

func TestRegistry_SyncAllCancelled(t *testing.T) {
	reg, _, be := setupPartition(t, 32, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := reg.SyncAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, be.writes)
}

// =============================================================================
// Handles
// =============================================================================

func TestOpen_SingleWriter(t *testing.T) {
	_, p, _ := setupPartition(t, 64, false)

	w, err := p.Open(FlagWrite)
	require.NoError(t, err)

	_, err = p.Open(FlagWrite)
	require.ErrorIs(t, err, ErrBusy)

	r, err := p.Open(0)
	require.NoError(t, err)
	require.Equal(t, 2, p.Handles())

	require.NoError(t, w.Close())
	w2, err := p.Open(FlagWrite)
	require.NoError(t, err)

	require.NoError(t, w2.Close())
	require.NoError(t, r.Close())
	require.Zero(t, p.Handles())
}

func TestOpen_RejectsFlags(t *testing.T) {
	_, p, _ := setupPartition(t, 64, false)

	_, err := p.Open(FlagAutoT)
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, err = p.Open(FlagTransaction)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClose_Twice(t *testing.T) {
	_, p, _ := setupPartition(t, 64, false)

	h, err := p.Open(0)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.ErrorIs(t, h.Close(), ErrInvalidArgument)
	require.Zero(t, p.Handles())

	_, err = h.Read(make([]byte, 1), 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClose_LastHandleSyncs(t *testing.T) {
	_, p, be := setupPartition(t, 64, false)

	h1, err := p.Open(FlagWrite)
	require.NoError(t, err)
	h2, err := p.Open(0)
	require.NoError(t, err)

	_, err = h1.Write([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, h1.Close())
	require.Zero(t, be.writes)

	require.NoError(t, h2.Close())
	require.Equal(t, 1, be.writes)
	require.Equal(t, []byte("hello"), be.snapshot()[:5])
}

func TestClose_SyncFailureIsNotReturned(t *testing.T) {
	_, p, be := setupPartition(t, 64, false)
	be.failWrites(errors.New("flash timeout"))

	h, err := p.Open(FlagWrite)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestSetAutoT(t *testing.T) {
	_, plain, _ := setupPartition(t, 64, false)
	h, err := plain.Open(FlagWrite)
	require.NoError(t, err)
	require.ErrorIs(t, h.SetAutoT(true), ErrPermissionDenied)
	require.NoError(t, h.SetAutoT(false))
	require.False(t, h.AutoT())

	_, txp, _ := setupPartition(t, 64, true)
	h, err = txp.Open(FlagWrite)
	require.NoError(t, err)
	require.NoError(t, h.SetAutoT(true))
	require.True(t, h.AutoT())
	require.NoError(t, h.SetAutoT(false))
	require.False(t, h.AutoT())
}

func TestLock(t *testing.T) {
	_, p, _ := setupPartition(t, 64, false)

	h, err := p.Open(0)
	require.NoError(t, err)
	require.ErrorIs(t, p.Lock(), ErrBusy)
	require.NoError(t, h.Close())

	require.NoError(t, p.Lock())
	require.ErrorIs(t, p.Lock(), ErrWouldBlock)

	_, err = p.Open(FlagNonblock)
	require.ErrorIs(t, err, ErrWouldBlock)

	p.Unlock()
	h, err = p.Open(FlagNonblock)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestLock_RemovedPartition(t *testing.T) {
	reg, p, _ := setupPartition(t, 64, false)

	require.NoError(t, p.Lock())
	reg.Delete(p)
	p.Unlock()

	require.ErrorIs(t, p.Lock(), ErrNotFound)
	_, err := p.Open(FlagNonblock)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, reg.Remove("test"), ErrNotFound)
}

// =============================================================================
// Plain I/O
// =============================================================================

func TestReadWrite_Bounds(t *testing.T) {
	_, p, _ := setupPartition(t, 64, false)
	h, err := p.Open(FlagWrite)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 16)

	n, err := h.Read(buf, 64)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = h.Read(buf, 65)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.Read(buf, -1)
	require.ErrorIs(t, err, ErrInvalidArgument)

	n, err = h.Read(buf, 56)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, pattern(64)[56:], buf[:8])

	n, err = h.Write(bytes.Repeat([]byte{0xEE}, 16), 60)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = h.Write(buf, 64)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = h.Write(buf, 100)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWrite_RequiresWriteFlag(t *testing.T) {
	_, p, _ := setupPartition(t, 64, false)
	h, err := p.Open(0)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Write([]byte{1}, 0)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestWrite_PlainGoesToShadow(t *testing.T) {
	_, p, be := setupPartition(t, 64, false)
	w, err := p.Open(FlagWrite)
	require.NoError(t, err)
	r, err := p.Open(0)
	require.NoError(t, err)

	_, err = w.Write([]byte("abc"), 10)
	require.NoError(t, err)

	buf := make([]byte, 3)
	_, err = r.Read(buf, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), buf)

	// Not persisted until sync.
	require.NotEqual(t, []byte("abc"), be.snapshot()[10:13])
	require.NoError(t, w.Sync())
	require.Equal(t, []byte("abc"), be.snapshot()[10:13])

	require.NoError(t, w.Close())
	require.NoError(t, r.Close())
}

func TestSync_Failure(t *testing.T) {
	_, p, be := setupPartition(t, 64, false)
	cause := errors.New("flash timeout")
	be.failWrites(cause)

	err := p.Sync()
	require.ErrorIs(t, err, ErrHardwareIO)
	require.ErrorIs(t, err, cause)

	be.failWrites(nil)
	require.NoError(t, p.Sync())
}

// =============================================================================
// Transactions
// =============================================================================

func TestTransaction_DisabledPartition(t *testing.T) {
	_, p, _ := setupPartition(t, 64, false)
	h, err := p.Open(FlagWrite)
	require.NoError(t, err)
	defer h.Close()

	require.ErrorIs(t, h.Begin(), ErrPermissionDenied)
	require.ErrorIs(t, h.Commit(), ErrPermissionDenied)
	require.ErrorIs(t, h.Abort(), ErrPermissionDenied)
}

func TestTransaction_CommitCopiesDirtyRange(t *testing.T) {
	_, p, be := setupPartition(t, 1024, true)
	orig := pattern(1024)

	w, err := p.Open(FlagWrite)
	require.NoError(t, err)
	r, err := p.Open(0)
	require.NoError(t, err)

	require.NoError(t, w.Begin())
	require.True(t, w.InTransaction())

	data := bytes.Repeat([]byte{0xAA}, 50)
	n, err := w.Write(data, 200)
	require.NoError(t, err)
	require.Equal(t, 50, n)

	dr, ok := p.DirtyRange()
	require.True(t, ok)
	require.Equal(t, int64(128), dr.Bottom)
	require.Equal(t, int64(255), dr.Top)

	// Shadow and other handles see the old contents.
	require.Equal(t, orig, p.shadow)
	buf := make([]byte, 1024)
	_, err = r.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, orig, buf)

	// The transaction owner sees its own write.
	want := bytes.Clone(orig)
	copy(want[200:], data)
	_, err = w.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, want, buf)

	require.NoError(t, w.Commit())
	require.False(t, w.InTransaction())
	_, ok = p.DirtyRange()
	require.False(t, ok)
	require.Equal(t, want, p.shadow)

	// Commit does not sync.
	require.Equal(t, orig, be.snapshot())

	require.NoError(t, w.Close())
	require.NoError(t, r.Close())
	require.Equal(t, want, be.snapshot())
}

func TestTransaction_Abort(t *testing.T) {
	_, p, _ := setupPartition(t, 256, true)
	h, err := p.Open(FlagWrite)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Begin())
	_, err = h.Write([]byte{1, 2, 3}, 7)
	require.NoError(t, err)
	require.NoError(t, h.Abort())
	require.False(t, h.InTransaction())
	require.Equal(t, pattern(256), p.shadow)

	// Abort and Commit without a transaction are no-ops.
	require.NoError(t, h.Abort())
	require.NoError(t, h.Commit())
}

func TestTransaction_EmptyCommit(t *testing.T) {
	_, p, _ := setupPartition(t, 256, true)
	h, err := p.Open(FlagWrite)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Begin())
	require.NoError(t, h.Commit())
	require.False(t, h.InTransaction())
	require.Equal(t, pattern(256), p.shadow)
}

func TestTransaction_Exclusive(t *testing.T) {
	_, p, _ := setupPartition(t, 256, true)
	a, err := p.Open(FlagWrite)
	require.NoError(t, err)
	b, err := p.Open(0)
	require.NoError(t, err)

	require.NoError(t, a.Begin())
	require.ErrorIs(t, a.Begin(), ErrBusy)
	require.ErrorIs(t, b.Begin(), ErrBusy)

	require.NoError(t, a.Commit())
	require.NoError(t, b.Begin())
	require.NoError(t, b.Abort())

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}

func TestTransaction_CloseAborts(t *testing.T) {
	_, p, be := setupPartition(t, 256, true)
	h, err := p.Open(FlagWrite)
	require.NoError(t, err)

	require.NoError(t, h.Begin())
	_, err = h.Write([]byte{9, 9, 9}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.Equal(t, pattern(256), p.shadow)
	require.Equal(t, pattern(256), be.snapshot())

	h2, err := p.Open(FlagWrite)
	require.NoError(t, err)
	require.NoError(t, h2.Begin())
	require.NoError(t, h2.Close())
}

func TestTransaction_AutoT(t *testing.T) {
	_, p, _ := setupPartition(t, 256, true)
	h, err := p.Open(FlagWrite | FlagAutoT)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Write([]byte("auto"), 130)
	require.NoError(t, err)
	require.True(t, h.InTransaction())
	require.Equal(t, pattern(256), p.shadow)

	require.NoError(t, h.Commit())
	require.Equal(t, []byte("auto"), p.shadow[130:134])

	// A second write opens a fresh transaction.
	_, err = h.Write([]byte("x"), 0)
	require.NoError(t, err)
	require.True(t, h.InTransaction())
	require.NoError(t, h.Abort())
	require.Equal(t, pattern(256)[0], p.shadow[0])
}

func TestTransaction_AutoTConflict(t *testing.T) {
	_, p, _ := setupPartition(t, 256, true)
	owner, err := p.Open(0)
	require.NoError(t, err)
	auto, err := p.Open(FlagWrite | FlagAutoT)
	require.NoError(t, err)

	require.NoError(t, owner.Begin())
	_, err = auto.Write([]byte{1}, 0)
	require.ErrorIs(t, err, ErrBusy)
	require.False(t, auto.InTransaction())

	require.NoError(t, owner.Abort())
	require.NoError(t, owner.Close())
	require.NoError(t, auto.Close())
}

func TestTransaction_NonblockCommitKeepsTransaction(t *testing.T) {
	_, p, _ := setupPartition(t, 256, true)
	h, err := p.Open(FlagWrite | FlagNonblock)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Begin())
	_, err = h.Write([]byte{7}, 5)
	require.NoError(t, err)

	p.shadowMu.Lock()
	require.ErrorIs(t, h.Commit(), ErrWouldBlock)
	_, err = h.Read(make([]byte, 4), 0)
	require.ErrorIs(t, err, ErrWouldBlock)
	p.shadowMu.Unlock()

	require.True(t, h.InTransaction())
	require.NoError(t, h.Commit())
	require.Equal(t, byte(7), p.shadow[5])
}

func TestTransaction_NonblockTxLock(t *testing.T) {
	_, p, _ := setupPartition(t, 256, true)
	h, err := p.Open(FlagWrite | FlagNonblock)
	require.NoError(t, err)
	defer h.Close()

	p.txMu.Lock()
	require.ErrorIs(t, h.Begin(), ErrWouldBlock)
	p.txMu.Unlock()
	require.NoError(t, h.Begin())
	require.NoError(t, h.Abort())
}

func TestRead_ParallelReadersDoNotBlock(t *testing.T) {
	_, p, _ := setupPartition(t, 256, false)
	want := pattern(256)[16:32]

	readers := make([]*Handle, 8)
	for i := range readers {
		h, err := p.Open(FlagNonblock)
		require.NoError(t, err)
		defer h.Close()
		readers[i] = h
	}

	// Another reader is mid-copy.
	p.shadowMu.RLock()
	var wg sync.WaitGroup
	for _, h := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 16)
			n, err := h.Read(buf, 16)
			assert.NoError(t, err)
			assert.Equal(t, 16, n)
			assert.Equal(t, want, buf)
		}()
	}
	wg.Wait()
	p.shadowMu.RUnlock()

	// A writer holding shadow does block them.
	p.shadowMu.Lock()
	_, err := readers[0].Read(make([]byte, 16), 16)
	require.ErrorIs(t, err, ErrWouldBlock)
	p.shadowMu.Unlock()

	n, err := readers[0].Read(make([]byte, 16), 16)
	require.NoError(t, err)
	require.Equal(t, 16, n)
}

func TestRead_ReaderDuringTransactionalWrite(t *testing.T) {
	_, p, _ := setupPartition(t, 256, true)
	orig := pattern(256)

	w, err := p.Open(FlagWrite | FlagNonblock)
	require.NoError(t, err)
	defer w.Close()
	r, err := p.Open(FlagNonblock)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, w.Begin())

	// The writer is copying a clean page into its transaction buffer: it
	// holds the transaction lock and shadow for reading.
	p.txMu.Lock()
	p.shadowMu.RLock()
	buf := make([]byte, 16)
	n, err := r.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.Equal(t, orig[:16], buf)
	p.shadowMu.RUnlock()
	p.txMu.Unlock()

	// A reader mid-copy does not stall the writer's backfill either.
	p.shadowMu.RLock()
	_, err = w.Write([]byte{0xAA}, 3)
	require.NoError(t, err)
	n, err = r.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.Equal(t, orig[3], buf[3], "reader sees committed contents")
	require.ErrorIs(t, w.Commit(), ErrWouldBlock)
	p.shadowMu.RUnlock()

	require.NoError(t, w.Commit())
	_, err = r.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), buf[3])
}

// TestTransaction_MatchesModel drives random transactional writes and checks
// every read against a plain byte-slice model.
func TestTransaction_MatchesModel(t *testing.T) {
	const size = 1000
	rng := rand.New(rand.NewSource(7))

	for _, pageSize := range []int{1, 16, 128, 512} {
		reg := NewRegistry(nil)
		p, err := reg.Add(Config{
			Name: "model", Size: size, Transactions: true, PageSize: pageSize,
			Backend: &fakeBackend{data: pattern(size)},
		})
		require.NoError(t, err)

		w, err := p.Open(FlagWrite)
		require.NoError(t, err)
		r, err := p.Open(0)
		require.NoError(t, err)

		committed := pattern(size)
		for round := 0; round < 30; round++ {
			require.NoError(t, w.Begin())
			view := bytes.Clone(committed)

			for i := rng.Intn(6); i >= 0; i-- {
				off := rng.Intn(size)
				data := make([]byte, 1+rng.Intn(64))
				rng.Read(data)
				n, err := w.Write(data, int64(off))
				require.NoError(t, err)
				copy(view[off:], data[:n])

				got := make([]byte, size)
				_, err = w.Read(got, 0)
				require.NoError(t, err)
				require.Equal(t, view, got, "pagesize %d round %d", pageSize, round)

				_, err = r.Read(got, 0)
				require.NoError(t, err)
				require.Equal(t, committed, got)
			}

			if rng.Intn(4) == 0 {
				require.NoError(t, w.Abort())
			} else {
				require.NoError(t, w.Commit())
				committed = view
			}
			require.Equal(t, committed, p.shadow)
		}

		require.NoError(t, w.Close())
		require.NoError(t, r.Close())
	}
}

// TestTransaction_CommitIsAtomic checks that concurrent readers never observe
// a partially committed transaction.
func TestTransaction_CommitIsAtomic(t *testing.T) {
	const size = 512
	reg := NewRegistry(nil)
	p, err := reg.Add(Config{
		Name: "atomic", Size: size, Transactions: true, PageSize: 64,
		Backend: newFakeBackend(size, 0),
	})
	require.NoError(t, err)

	w, err := p.Open(FlagWrite)
	require.NoError(t, err)
	defer w.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		r, err := p.Open(0)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.Close()
			buf := make([]byte, size)
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := r.Read(buf, 0); err != nil {
					t.Error(err)
					return
				}
				for _, c := range buf {
					if c != buf[0] {
						t.Errorf("torn read: %d and %d", buf[0], c)
						return
					}
				}
			}
		}()
	}

	for k := 1; k <= 200; k++ {
		require.NoError(t, w.Begin())
		_, err := w.Write(bytes.Repeat([]byte{byte(k)}, size), 0)
		require.NoError(t, err)
		require.NoError(t, w.Commit())
	}
	close(stop)
	wg.Wait()
}

func TestFlags_String(t *testing.T) {
	assert.Equal(t, "0", Flags(0).String())
	assert.Equal(t, "WRITE|AUTOT", (FlagWrite | FlagAutoT).String())
	assert.Equal(t, "NONBLOCK|USER|TRANSACTION", (FlagNonblock | FlagUser | FlagTransaction).String())
}
