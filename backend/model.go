package backend

import (
	"github.com/CrimsonAS/signalgraph/model"
)

// Model is embedded in another type instead of QObject to publish a table,
// represented as a QAbstractListModel to the client.
//
// To be a model, a type must embed Model and implement RowSource. Model
// implements model.Observer, so it can subscribe directly to any table
// that publishes changes; notifications arriving before the client knows
// the model are dropped.
type Model struct {
	QObject
	// ModelAPI is an internal object for the model data API
	ModelAPI *modelAPI `json:"_qb_model"`
}

var _ model.Observer = (*Model)(nil)

// RowSource provides the rows of a Model.
type RowSource interface {
	Row(row int) interface{}
	RowCount() int
	RoleNames() []string
}

// modelAPI implements the client side model data API.
type modelAPI struct {
	QObject
	Model     *Model `json:"-"`
	RoleNames []string
	BatchSize int

	// Signals
	ModelReset   func([]interface{}, int)      `qbackend:"rowData,moreRows"`
	ModelInsert  func(int, []interface{}, int) `qbackend:"start,rowData,moreRows"`
	ModelRemove  func(int, int)                `qbackend:"start,end"`
	ModelUpdate  func(int, interface{})        `qbackend:"row,data"`
	ModelRowData func(int, []interface{})      `qbackend:"start,rowData"`
}

func (m *modelAPI) Reset() {
	m.Model.Reset()
}

func (m *modelAPI) RequestRows(start, count int) {
	// BatchSize does not apply; the client asked for these rows
	rows, _ := m.getRows(start, count, 0)
	m.Emit("modelRowData", start, rows)
}

func (m *modelAPI) SetBatchSize(size int) {
	if size < 0 {
		size = 0
	}
	m.BatchSize = size
	m.Changed("BatchSize")
}

// dataSource finds the type embedding m. The QObject is shared with that
// type, and its object points back to it.
func (m *Model) dataSource() RowSource {
	impl, _ := asQObject(m)
	if impl == nil {
		return nil
	}
	ds, _ := impl.object.(RowSource)
	return ds
}

func (m *Model) InitObject() {
	data := m.dataSource()
	if data == nil {
		m.Connection().warn("model type %s does not implement RowSource", m.Identifier())
		return
	}
	m.ModelAPI = &modelAPI{
		Model:     m,
		RoleNames: data.RoleNames(),
	}
	if err := m.Connection().InitObject(m.ModelAPI); err != nil {
		m.Connection().warn("model API init failed: %s", err)
	}
}

func (m *modelAPI) getRows(start, count, batchSize int) ([]interface{}, int) {
	data := m.Model.dataSource()
	if data == nil {
		return []interface{}{}, 0
	}

	rowCount, moreRows := data.RowCount(), 0
	if start < 0 {
		start = 0
	}
	if start > rowCount {
		start = rowCount
	}
	if count < 0 || start+count > rowCount {
		// Negative count is for all remaining rows
		count = rowCount - start
	}
	if batchSize > 0 && count > batchSize {
		moreRows = count - batchSize
		count = batchSize
	}

	rows := make([]interface{}, count)
	for i := range rows {
		rows[i] = data.Row(start + i)
	}
	return rows, moreRows
}

func (m *Model) active() bool {
	return m.ModelAPI != nil && m.ModelAPI.Referenced()
}

func (m *Model) Reset() {
	if !m.active() {
		return
	}
	rows, moreRows := m.ModelAPI.getRows(0, -1, m.ModelAPI.BatchSize)
	m.ModelAPI.Emit("modelReset", rows, moreRows)
}

func (m *Model) Inserted(start, count int) {
	if !m.active() {
		return
	}
	rows, moreRows := m.ModelAPI.getRows(start, count, m.ModelAPI.BatchSize)
	m.ModelAPI.Emit("modelInsert", start, rows, moreRows)
}

func (m *Model) Removed(start, count int) {
	if !m.active() {
		return
	}
	m.ModelAPI.Emit("modelRemove", start, start+count-1)
}

func (m *Model) Updated(row int) {
	if !m.active() {
		return
	}
	m.ModelAPI.Emit("modelUpdate", row, m.dataSource().Row(row))
}
