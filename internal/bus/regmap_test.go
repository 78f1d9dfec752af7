package bus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterMap_NameFallback(t *testing.T) {
	m := DefaultRegisterMap()
	require.Equal(t, "REG_VER", m.Name(0x00))
	require.Equal(t, "REG_RAM", m.Name(0x80))
	require.Equal(t, "0xF3", m.Name(0xF3))
}

func TestLoadRegisterMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regs.yaml")
	content := "names:\n  9: GPIO\n  0: DIRECTION\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := LoadRegisterMap(path)
	require.NoError(t, err)
	require.Equal(t, "GPIO", m.Name(9))
	require.Equal(t, "DIRECTION", m.Name(0))

	_, err = LoadRegisterMap(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
