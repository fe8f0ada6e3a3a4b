package ipalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateSequential(t *testing.T) {
	a := New()

	ip1, err := a.Allocate("rumah-a")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ip1)

	ip2, err := a.Allocate("rumah-b")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", ip2)
}

func TestAllocateIsIdempotentPerName(t *testing.T) {
	a := New()
	ip1, _ := a.Allocate("rumah-a")
	ip2, _ := a.Allocate("rumah-a")
	assert.Equal(t, ip1, ip2)
}

func TestReleaseThenReallocateFillsHole(t *testing.T) {
	a := New()
	a.Allocate("a")
	a.Allocate("b")
	a.Allocate("c")

	a.Release("b")

	ip, err := a.Allocate("d")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", ip, "should reuse the hole left by b")
}

func TestExhaustion(t *testing.T) {
	a := New()

	count := 0
	for i := 0; i < 300; i++ {
		_, err := a.Allocate(nameFor(i))
		if err != nil {
			break
		}
		count++
	}

	assert.Equal(t, LastHost-FirstHost+1, count)

	_, err := a.Allocate("one-too-many")
	require.Error(t, err)
}

func nameFor(i int) string {
	return "container-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
