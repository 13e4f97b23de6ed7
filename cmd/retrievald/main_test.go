package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
)

func TestParseFilters(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		filter, err := parseFilters(nil)
		require.NoError(t, err)
		assert.Nil(t, filter)
	})

	t.Run("equals and in", func(t *testing.T) {
		filter, err := parseFilters([]string{"vendor=cisco", "doc_type=parser,rule"})
		require.NoError(t, err)
		assert.Equal(t, corpus.FilterSpec{
			"vendor":   {Equals: "cisco"},
			"doc_type": {In: []string{"parser", "rule"}},
		}, filter)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := parseFilters([]string{"vendor"})
		assert.Error(t, err)

		_, err = parseFilters([]string{"=cisco"})
		assert.Error(t, err)
	})
}
