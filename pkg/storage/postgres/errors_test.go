package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	uv := &pq.Error{Code: "23505"}
	assert.True(t, IsUniqueViolation(uv))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert user: %w", uv)))

	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestIsForeignKeyViolation(t *testing.T) {
	fk := &pq.Error{Code: "23503"}
	assert.True(t, IsForeignKeyViolation(fk))
	assert.True(t, IsForeignKeyViolation(fmt.Errorf("link provider: %w", fk)))

	assert.False(t, IsForeignKeyViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsForeignKeyViolation(nil))
}
