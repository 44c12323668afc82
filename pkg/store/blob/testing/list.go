package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunListTests executes List tests.
func (suite *StoreTestSuite) RunListTests(t *testing.T) {
	t.Run("List_Empty", suite.testListEmpty)
	t.Run("List_Multiple", suite.testListMultiple)
}

func (suite *StoreTestSuite) testListEmpty(t *testing.T) {
	store := suite.NewStore(t)

	paths, err := store.List(testContext())
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func (suite *StoreTestSuite) testListMultiple(t *testing.T) {
	store := suite.NewStore(t)

	a := mustPathFor(t, store, "a.txt")
	b := mustPathFor(t, store, "b.txt")
	c := mustPathFor(t, store, "c.txt")
	mustPut(t, store, a, []byte("a"))
	mustPut(t, store, b, []byte("b"))
	mustPut(t, store, c, []byte("c"))
	require.NoError(t, store.Delete(testContext(), b))

	paths, err := store.List(testContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, c}, paths)
}
