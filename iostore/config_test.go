package iostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_FillsTagAwareDefaults(t *testing.T) {
	logCfg := Config{Tag: TagLog, FilePath: "log.seg"}
	require.NoError(t, logCfg.Validate())
	assert.Equal(t, 5*time.Millisecond, logCfg.FlushTimeout)
	assert.Equal(t, int64(4*1024*1024), logCfg.PreallocateFileSize)

	ckptCfg := Config{Tag: TagCheckpoint, FilePath: "ckpt.seg"}
	require.NoError(t, ckptCfg.Validate())
	assert.Equal(t, 20*time.Millisecond, ckptCfg.FlushTimeout)
	assert.Equal(t, int64(32*1024*1024), ckptCfg.PreallocateFileSize)
}

func TestConfig_Validate_RespectsExplicitOverrides(t *testing.T) {
	cfg := Config{
		Tag:                 TagLog,
		FilePath:            "log.seg",
		FlushTimeout:        time.Second,
		PreallocateFileSize: 1024,
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.FlushTimeout)
	assert.Equal(t, int64(1024), cfg.PreallocateFileSize)
}
