package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/xfer/pkg/models"
)

func TestRenderTask(t *testing.T) {
	task := models.TransferTask{
		Name: "sales",
		Source: models.SourceConfig{
			Conn:   "crm",
			SQL:    "SELECT * FROM sales WHERE day = '{{ .ds }}'",
			Params: map[string]any{"region": "{{ .var.region }}", "limit": 10},
		},
		DestPreoperator:       "DELETE FROM stg.sales WHERE day = @day",
		DestPreoperatorParams: map[string]any{"day": "{{ .ds }}"},
		TransformationsTemplated: models.OrderedMap{
			{Key: "run", Value: "{{ .run_id }}"},
			{Key: "loaded_at", Value: map[string]any{"expr": "'{{ .ts }}'"}},
			{Key: "batch", Value: 7},
		},
	}

	vars := RunVars{
		Time:  time.Date(2024, 3, 9, 1, 2, 3, 0, time.UTC),
		RunID: "r-1",
		Vars:  map[string]string{"region": "emea"},
	}
	out, err := RenderTask(task, vars)
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM sales WHERE day = '2024-03-09'", out.Source.SQL)
	assert.Equal(t, map[string]any{"region": "emea", "limit": 10}, out.Source.Params)
	assert.Equal(t, "2024-03-09", out.DestPreoperatorParams["day"])
	assert.Equal(t, "DELETE FROM stg.sales WHERE day = @day", out.DestPreoperator)
	assert.Equal(t, models.OrderedMap{
		{Key: "run", Value: "r-1"},
		{Key: "loaded_at", Value: map[string]any{"expr": "'2024-03-09T01:02:03Z'"}},
		{Key: "batch", Value: 7},
	}, out.TransformationsTemplated)

	assert.Equal(t, "{{ .var.region }}", task.Source.Params["region"], "the input task is not modified")
	assert.Equal(t, "{{ .run_id }}", task.TransformationsTemplated[0].Value)
}

func TestRenderTaskFilePath(t *testing.T) {
	file := &models.FileConfig{Path: "/in/orders_{{ .ds_nodash }}.csv"}
	task := models.TransferTask{Name: "orders", Source: models.SourceConfig{File: file}}

	out, err := RenderTask(task, RunVars{Time: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, "/in/orders_20241231.csv", out.Source.File.Path)
	assert.Equal(t, "/in/orders_{{ .ds_nodash }}.csv", file.Path)
}

func TestRenderTaskErrors(t *testing.T) {
	_, err := RenderTask(models.TransferTask{Name: "x", Source: models.SourceConfig{SQL: "{{ .var.missing }}"}}, RunVars{})
	assert.Error(t, err)

	_, err = RenderTask(models.TransferTask{Name: "x", DestPreoperator: "{{ .ds "}, RunVars{})
	assert.Error(t, err)
}

func TestParseVars(t *testing.T) {
	vars, err := ParseVars([]string{"a=1", "b=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y"}, vars)

	_, err = ParseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseVars([]string{"=1"})
	assert.Error(t, err)
}
