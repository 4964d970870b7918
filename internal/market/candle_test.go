package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesValidate(t *testing.T) {
	assert.Error(t, Series(nil).Validate())
	assert.Error(t, Series{{CloseTime: 1, Open: 1, High: 1, Low: 1, Close: 0, Volume: 1}}.Validate())
	assert.Error(t, Series{{CloseTime: 0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}.Validate())
	assert.Error(t, Series{{CloseTime: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: -1}}.Validate())
	assert.NoError(t, Series{{CloseTime: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: 0}}.Validate())
}

func TestSeriesSortByTime(t *testing.T) {
	s := Series{
		{CloseTime: 3, Close: 3},
		{CloseTime: 1, Close: 1},
		{CloseTime: 2, Close: 2},
	}
	sorted := s.SortByTime()
	require.Len(t, sorted, 3)
	assert.Equal(t, int64(1), sorted[0].CloseTime)
	assert.Equal(t, int64(3), sorted[2].CloseTime)
	// 原序列不被修改
	assert.Equal(t, int64(3), s[0].CloseTime)
}

func TestSeriesCloses(t *testing.T) {
	s := Series{{Close: 1.5}, {Close: 2.5}}
	assert.Equal(t, []float64{1.5, 2.5}, s.Closes())
}
