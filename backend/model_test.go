package backend

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/signalgraph/model"
)

type CustomModel struct {
	Model
	rows int
}

func (m *CustomModel) Row(row int) interface{} {
	return fmt.Sprintf("row %d", row)
}

func (m *CustomModel) RowCount() int {
	return m.rows
}

func (m *CustomModel) RoleNames() []string {
	return []string{"text"}
}

var (
	_ RowSource      = &CustomModel{}
	_ model.Observer = &CustomModel{}
)

func TestModelType(t *testing.T) {
	m := &CustomModel{rows: 3}
	_, isObject := asQObject(m)
	require.True(t, isObject, "CustomModel type is not detected as a QObject")

	require.NoError(t, dummyConnection.InitObject(m))

	impl, _ := asQObject(m)
	assert.Same(t, m, impl.object, "CustomModel QObject does not point back to model")
	require.NotNil(t, m.ModelAPI, "ModelAPI field not initialized during QObject initialization")
	assert.Equal(t, []string{"text"}, m.ModelAPI.RoleNames)
	assert.NotEmpty(t, m.ModelAPI.Identifier())
	assert.Same(t, &m.Model, m.ModelAPI.Model)
}

func TestModelRows(t *testing.T) {
	m := &CustomModel{rows: 5}
	require.NoError(t, dummyConnection.InitObject(m))
	api := m.ModelAPI

	rows, more := api.getRows(0, -1, 0)
	assert.Equal(t, []interface{}{"row 0", "row 1", "row 2", "row 3", "row 4"}, rows)
	assert.Equal(t, 0, more)

	rows, more = api.getRows(1, -1, 2)
	assert.Equal(t, []interface{}{"row 1", "row 2"}, rows)
	assert.Equal(t, 2, more)

	rows, more = api.getRows(3, 10, 0)
	assert.Equal(t, []interface{}{"row 3", "row 4"}, rows)
	assert.Equal(t, 0, more)

	rows, _ = api.getRows(9, 1, 0)
	assert.Empty(t, rows)
}

func TestModelUnreferencedIsQuiet(t *testing.T) {
	m := &CustomModel{rows: 2}

	// Notifications before and after init are dropped while the client
	// does not reference the model
	m.Reset()
	m.Inserted(0, 1)
	require.NoError(t, dummyConnection.InitObject(m))
	m.Removed(0, 1)
	m.Updated(0)
	assert.False(t, m.ModelAPI.Referenced())

	m.ModelAPI.SetBatchSize(-4)
	assert.Equal(t, 0, m.ModelAPI.BatchSize)
}
