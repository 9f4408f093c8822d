package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsSorted(t *testing.T) {
	migs, err := Migrations()
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, "sql/001_users.sql", migs[0].Name)
	assert.Contains(t, migs[1].SQL, "agent_traces")
}
