package testing

import (
	"testing"

	"github.com/marmos91/dittodrop/pkg/store/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunPathTests executes PathFor tests.
func (suite *StoreTestSuite) RunPathTests(t *testing.T) {
	t.Run("PathFor_Deterministic", suite.testPathForDeterministic)
	t.Run("PathFor_StripsDirectories", suite.testPathForStripsDirectories)
	t.Run("PathFor_Invalid", suite.testPathForInvalid)
}

func (suite *StoreTestSuite) testPathForDeterministic(t *testing.T) {
	store := suite.NewStore(t)

	a := mustPathFor(t, store, "report.pdf")
	b := mustPathFor(t, store, "report.pdf")
	c := mustPathFor(t, store, "other.pdf")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func (suite *StoreTestSuite) testPathForStripsDirectories(t *testing.T) {
	store := suite.NewStore(t)

	plain := mustPathFor(t, store, "notes.txt")

	for _, name := range []string{"a/b/notes.txt", "../../notes.txt", "/etc/notes.txt", `dir\notes.txt`} {
		path, err := store.PathFor(name)
		require.NoError(t, err, name)
		assert.Equal(t, plain, path, name)
	}
}

func (suite *StoreTestSuite) testPathForInvalid(t *testing.T) {
	store := suite.NewStore(t)

	for _, name := range []string{"", ".", "..", "/"} {
		_, err := store.PathFor(name)
		assert.ErrorIs(t, err, blob.ErrInvalidPath, "filename %q", name)
	}
}
