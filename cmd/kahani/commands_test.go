package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"

	"kahani/internal/ime"
)

func TestKeyFromRune(t *testing.T) {
	assert.Equal(t, ime.KeyBackspace, keyFromRune(0x7f).Kind)
	assert.Equal(t, ime.KeyBackspace, keyFromRune('\b').Kind)
	assert.Equal(t, ime.KeySpace, keyFromRune(' ').Kind)
	assert.Equal(t, ime.KeyEnter, keyFromRune('\r').Kind)

	k := keyFromRune('a')
	assert.Equal(t, ime.KeyChar, k.Kind)
	assert.Equal(t, 'a', k.Char)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "", labels(attribute.NewSet()))
	assert.Equal(t, "{op=get,status=ok}", labels(attribute.NewSet(
		attribute.String("status", "ok"),
		attribute.String("op", "get"),
	)))
}
