package libproxy

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangyunhao116/libproxy/capi/capitest"
)

func cURL(s string) *byte {
	b := append([]byte(s), 0)
	return &b[0]
}

// rawList asks lib for an array using a throwaway factory.
func rawList(t *testing.T, lib *capitest.Library) unsafe.Pointer {
	t.Helper()
	f := lib.FactoryNew()
	require.NotNil(t, f)
	defer lib.FactoryFree(f)
	return lib.FactoryGetProxies(f, cURL("http://example.com/"))
}

// requireBalanced checks that every allocation and factory was released
// exactly once.
func requireBalanced(t *testing.T, lib *capitest.Library) {
	t.Helper()
	assert.Zero(t, lib.Outstanding(), "outstanding allocations")
	assert.Zero(t, lib.BadFrees(), "bad frees")
	assert.Zero(t, lib.LiveFactories(), "live factories")
	assert.Zero(t, lib.BadFactoryFrees(), "bad factory frees")
	assert.Equal(t, lib.Allocs(), lib.Frees())
}

// recordingLibrary records the order of Free calls.
type recordingLibrary struct {
	*capitest.Library

	mu    sync.Mutex
	freed []unsafe.Pointer
}

func (r *recordingLibrary) Free(p unsafe.Pointer) {
	r.mu.Lock()
	r.freed = append(r.freed, p)
	r.mu.Unlock()
	r.Library.Free(p)
}
