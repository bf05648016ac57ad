package vectorstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestTableName(t *testing.T) {
	assert.Equal(t, "vec_kb_acts", tableName("kb_acts"))
	assert.Equal(t, "vec_kb_acts", tableName("KB Acts"))
	assert.Equal(t, "vec_a_b_c", tableName("a-b.c"))
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,-1,2]", vectorLiteral([]float32{0.5, -1, 2}))
}

func TestUndefinedTable(t *testing.T) {
	assert.True(t, undefinedTable(&pq.Error{Code: "42P01"}))
	assert.True(t, undefinedTable(fmt.Errorf("delete vectors: %w", &pq.Error{Code: "42P01"})))

	assert.False(t, undefinedTable(&pq.Error{Code: "23505"}))
	assert.False(t, undefinedTable(errors.New("connection refused")))
	assert.False(t, undefinedTable(nil))
}
