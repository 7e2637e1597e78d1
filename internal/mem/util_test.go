package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockReportsLevel(t *testing.T) {
	level, err := Lock()
	if err != nil {
		t.Skipf("memory locking unsupported here: %v", err)
	}
	defer func() { _ = Unlock() }()

	assert.Contains(t, []ProtectionLevel{ProtectionPartial, ProtectionFull}, level)
}

func TestProtectionLevelString(t *testing.T) {
	assert.Equal(t, "none", ProtectionNone.String())
	assert.Equal(t, "partial", ProtectionPartial.String())
	assert.Equal(t, "full", ProtectionFull.String())
}
