package dynamicds

import (
	"testing"

	"github.com/near-indexer/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func templates() []*model.Template {
	return []*model.Template{
		{Name: "pool", Kind: "Account", Processor: "uniswap"},
		{Name: "plainPool", Kind: "Account"},
	}
}

func TestCreateDynamicDatasourceMaterializesFromTemplate(t *testing.T) {
	m := New(nil, templates(), nil)
	dds, err := m.CreateDynamicDatasource("pool", map[string]string{"address": "x.near"}, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), dds.StartBlock)
	assert.Equal(t, model.FlavorCustom, dds.Flavor)
	assert.Equal(t, "uniswap", dds.Processor)
}

func TestCreateDynamicDatasourceDefaultsToRuntimeFlavorWithoutProcessor(t *testing.T) {
	m := New(nil, templates(), nil)
	dds, err := m.CreateDynamicDatasource("plainPool", nil, 50)
	require.NoError(t, err)
	assert.Equal(t, model.FlavorRuntime, dds.Flavor)
}

func TestCreateDynamicDatasourceRejectsUnknownTemplate(t *testing.T) {
	m := New(nil, templates(), nil)
	_, err := m.CreateDynamicDatasource("nope", nil, 1)
	require.Error(t, err)
}

func TestGetAllDataSourcesExcludesFutureStartBlocks(t *testing.T) {
	m := New(nil, templates(), nil)
	_, err := m.CreateDynamicDatasource("pool", nil, 100)
	require.NoError(t, err)

	assert.Len(t, m.GetAllDataSources(99), 0)
	assert.Len(t, m.GetAllDataSources(100), 1)
	assert.Len(t, m.GetAllDataSources(200), 1)
}

func TestDeleteTempDsRecordsRemovesAtOrAboveHeight(t *testing.T) {
	m := New(nil, templates(), nil)
	_, _ = m.CreateDynamicDatasource("pool", nil, 100)
	_, _ = m.CreateDynamicDatasource("pool", nil, 150)
	_, _ = m.CreateDynamicDatasource("pool", nil, 200)

	deleted := m.DeleteTempDsRecords(150)
	assert.Equal(t, 2, deleted)
	assert.Len(t, m.GetDynamicDatasources(), 1)
	assert.Equal(t, int64(100), m.GetDynamicDatasources()[0].CreatedAtHeight)
}

func TestEarliestStartBlockConsidersStaticAndDynamic(t *testing.T) {
	static := []*model.Datasource{{StartBlock: 500}}
	m := New(static, templates(), nil)
	_, _ = m.CreateDynamicDatasource("pool", nil, 100)

	assert.Equal(t, int64(100), m.EarliestStartBlock())
}
