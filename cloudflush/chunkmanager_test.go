package cloudflush

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewChunkManager_DefaultsInvalidSize(t *testing.T) {
	cm := newChunkManager(0)
	assert.Equal(t, 32, cm.maxChunksPerCompose)

	cm2 := newChunkManager(8)
	assert.Equal(t, 8, cm2.maxChunksPerCompose)
}

func TestVerifyComposedSize(t *testing.T) {
	assert.NoError(t, verifyComposedSize("obj", 100, 100))
	assert.NoError(t, verifyComposedSize("obj", 0, 0))
	assert.Error(t, verifyComposedSize("obj", 90, 100))
}
