package region

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	c "hugealloc/internal"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
		AddSource:  true,
	})))
	os.Exit(m.Run())
}

type regRecorder struct {
	calls	int
	sizes	[]uint64
	err		error
}

func (r *regRecorder) register(mem []byte) (Registration, error) {
	if r.err != nil { return Registration{}, r.err }
	r.calls++
	r.sizes = append(r.sizes, uint64(len(mem)))
	for _, b := range mem {
		if b != 0 {
			return Registration{}, errors.New("registered memory not zeroed")
		}
	}
	return Registration{LKey: uint32(r.calls)}, nil
}

func testProvider(budget uint64) (*Provider, *HeapBackend, *regRecorder) {
	backend := CreateHeapBackend(budget)
	rec := &regRecorder{}
	p := CreateProvider(backend, CreateKeyGen(42), c.HUGEPAGE_SIZE, rec.register)
	return p, backend, rec
}

func Test_Provider_Acquire_Release(t *testing.T) {
	p, backend, rec := testProvider(0)

	r, err := p.Acquire(3*c.MiB, 1)
	require.NoError(t, err)

	// rounded up to hugepage granularity
	assert.Equal(t, 4*c.MiB, r.Size())
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, []uint64{4 * c.MiB}, rec.sizes)
	assert.Equal(t, uint32(1), r.Reg.LKey)
	assert.Equal(t, 1, r.Node)
	assert.Equal(t, 1, backend.Stats.Binds[1])
	assert.NotZero(t, r.Base())
	assert.Positive(t, r.Key)

	require.NoError(t, p.Release(r))
	assert.Equal(t, 0, backend.Live())
	assert.Equal(t, uint64(0), backend.Used())
}

func Test_Provider_Zero_Size_Rounds_To_Hugepage(t *testing.T) {
	p, _, _ := testProvider(0)
	r, err := p.Acquire(0, 0)
	require.NoError(t, err)
	assert.Equal(t, c.HUGEPAGE_SIZE, r.Size())
	require.NoError(t, p.Release(r))
}

func Test_Provider_Key_Collision_Retries(t *testing.T) {
	p, backend, _ := testProvider(0)

	// claim the first few keys the generator will hand out
	shadow := CreateKeyGen(42)
	for range 3 {
		backend.Occupy(shadow.Next())
	}

	r, err := p.Acquire(c.HUGEPAGE_SIZE, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, backend.Stats.Collisions)
	assert.Equal(t, shadow.Next(), r.Key)
}

func Test_Provider_Key_Collision_Bound(t *testing.T) {
	p, backend, _ := testProvider(0)
	backend.CreateFault = func(int, uint64) error { return unix.EEXIST }

	_, err := p.Acquire(c.HUGEPAGE_SIZE, 0)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindInvariant, rerr.Kind)
}

func Test_Provider_OutOfMemory_Is_Recoverable(t *testing.T) {
	p, backend, rec := testProvider(2 * c.MiB)

	_, err := p.Acquire(4*c.MiB, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.ErrorIs(t, err, unix.ENOMEM)
	assert.NotErrorIs(t, err, ErrFatal)
	assert.False(t, IsFatal(err))
	assert.Equal(t, 0, rec.calls)
	assert.Equal(t, 0, backend.Live())

	// still usable afterwards
	_, err = p.Acquire(2*c.MiB, 0)
	assert.NoError(t, err)
}

func Test_Provider_Create_Classification(t *testing.T) {
	cases := []struct {
		errno	unix.Errno
		kind	Kind
	}{
		{unix.ENOMEM, KindOutOfMemory},
		{unix.EACCES, KindConfiguration},
		{unix.EINVAL, KindConfiguration},
		{unix.ENOSPC, KindConfiguration},
		{unix.EPERM, KindConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.errno.Error(), func(t *testing.T) {
			p, backend, _ := testProvider(0)
			backend.CreateFault = func(int, uint64) error { return tc.errno }

			_, err := p.Acquire(c.HUGEPAGE_SIZE, 0)
			var rerr *Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tc.kind, rerr.Kind)
			assert.Equal(t, "shmget", rerr.Op)
			assert.Equal(t, c.HUGEPAGE_SIZE, rerr.Size)
			assert.ErrorIs(t, err, tc.errno)
			assert.Equal(t, tc.kind != KindOutOfMemory, IsFatal(err))
		})
	}
}

func Test_Provider_Post_Create_Failures_Are_Fatal(t *testing.T) {
	regErr := errors.New("nic said no")
	cases := map[string]struct {
		setup	func(b *HeapBackend, rec *regRecorder)
		kind	Kind
		op		string
	}{
		"attach": 	{func(b *HeapBackend, _ *regRecorder) { b.AttachFault = func(int) error { return unix.EINVAL } }, KindInvariant, "shmat"},
		"bind": 	{func(b *HeapBackend, _ *regRecorder) { b.BindFault = func(int) error { return unix.EIO } }, KindInvariant, "mbind"},
		"register":	{func(_ *HeapBackend, r *regRecorder) { r.err = regErr }, KindRegistration, "register"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p, backend, rec := testProvider(0)
			tc.setup(backend, rec)

			_, err := p.Acquire(c.HUGEPAGE_SIZE, 0)
			var rerr *Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tc.kind, rerr.Kind)
			assert.Equal(t, tc.op, rerr.Op)
			assert.ErrorIs(t, err, ErrFatal)
			assert.True(t, IsFatal(err))

			// the half built segment is not left behind
			assert.Equal(t, 0, backend.Live())
		})
	}
}

func Test_Provider_Numa_Out_Of_Range(t *testing.T) {
	p, backend, _ := testProvider(0)
	_, err := p.Acquire(c.HUGEPAGE_SIZE, c.MAX_NUMA_NODES)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindConfiguration, rerr.Kind)
	assert.Equal(t, 0, backend.Stats.Creates)
}

func Test_Provider_Release_Failures_Are_Fatal(t *testing.T) {
	cases := map[string]func(b *HeapBackend){
		"missing": 	func(b *HeapBackend) { b.LookupFault = func(int) error { return unix.ENOENT } },
		"perm": 	func(b *HeapBackend) { b.LookupFault = func(int) error { return unix.EACCES } },
		"other": 	func(b *HeapBackend) { b.LookupFault = func(int) error { return unix.EIO } },
		"remove": 	func(b *HeapBackend) { b.RemoveFault = func(int) error { return unix.EPERM } },
		"detach": 	func(b *HeapBackend) { b.DetachFault = func() error { return unix.EINVAL } },
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			p, backend, _ := testProvider(0)
			r, err := p.Acquire(c.HUGEPAGE_SIZE, 0)
			require.NoError(t, err)

			setup(backend)
			err = p.Release(r)
			var rerr *Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, KindInvariant, rerr.Kind)
			assert.Equal(t, r.Key, rerr.Key)
		})
	}
}

func Test_Provider_Double_Release(t *testing.T) {
	p, _, _ := testProvider(0)
	r, err := p.Acquire(c.HUGEPAGE_SIZE, 0)
	require.NoError(t, err)

	require.NoError(t, p.Release(r))
	err = p.Release(r)
	assert.ErrorIs(t, err, unix.ENOENT)
	assert.ErrorIs(t, err, ErrFatal)
}

func Test_Error_Message(t *testing.T) {
	err := &Error{Kind: KindConfiguration, Op: "shmget", Msg: "insufficient permissions",
		Key: 7, Size: 2 * c.MiB, Err: unix.EACCES}
	assert.Contains(t, err.Error(), "shmget")
	assert.Contains(t, err.Error(), "key=7")
	assert.Contains(t, err.Error(), "size=2097152")
	assert.Contains(t, err.Error(), unix.EACCES.Error())
	assert.Equal(t, "configuration", err.Kind.String())
	assert.True(t, IsFatal(errors.New("not ours")))
	assert.False(t, IsFatal(nil))
}
