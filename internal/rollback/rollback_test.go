package rollback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnwindOrderIsLIFO(t *testing.T) {
	s := New()
	var order []int

	s.Push("first", func() error {
		order = append(order, 1)
		return nil
	})
	s.Push("second", func() error {
		order = append(order, 2)
		return nil
	})
	s.Push("third", func() error {
		order = append(order, 3)
		return nil
	})

	failures := s.Unwind()
	assert.Equal(t, 0, failures)
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Equal(t, 0, s.Len())
}

func TestUnwindContinuesAfterFailure(t *testing.T) {
	s := New()
	ran := 0

	s.Push("bad", func() error {
		ran++
		return errors.New("boom")
	})
	s.Push("good", func() error {
		ran++
		return nil
	})

	failures := s.Unwind()
	assert.Equal(t, 1, failures)
	assert.Equal(t, 2, ran)
}

func TestClearDiscardsWithoutRunning(t *testing.T) {
	s := New()
	ran := false
	s.Push("noop", func() error {
		ran = true
		return nil
	})

	s.Clear()
	assert.False(t, ran)
	assert.Equal(t, 0, s.Len())
}
