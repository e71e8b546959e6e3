package idgen_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/msgflux/internal/idgen"
)

func TestUUID_Unique(t *testing.T) {
	gen := idgen.UUID{}
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := gen.New()
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSequential(t *testing.T) {
	gen := idgen.NewSequential("exec-")
	assert.Equal(t, "exec-1", gen.New())
	assert.Equal(t, "exec-2", gen.New())
	gen.Reset()
	assert.Equal(t, "exec-1", gen.New())
}
