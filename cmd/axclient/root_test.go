package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/embermqtt/ember/encoding"
)

func TestParseProtocolVersion(t *testing.T) {
	defer func() { protoVersion = "5" }()

	protoVersion = "5"
	v, err := parseProtocolVersion()
	assert.NoError(t, err)
	assert.Equal(t, encoding.ProtocolVersion50, v)

	protoVersion = "3.1.1"
	v, err = parseProtocolVersion()
	assert.NoError(t, err)
	assert.Equal(t, encoding.ProtocolVersion311, v)

	protoVersion = "9"
	_, err = parseProtocolVersion()
	assert.Error(t, err)
}

func TestRandomClientIDIsUnique(t *testing.T) {
	assert.NotEqual(t, randomClientID(), randomClientID())
}
