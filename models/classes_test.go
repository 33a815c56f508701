package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYOLOClasses(t *testing.T) {
	assert.Equal(t, 80, YOLOClasses.Len())
	assert.Equal(t, "person", YOLOClasses.Name(0))
	assert.Equal(t, "vase", YOLOClasses.Name(75))
	assert.Equal(t, "toothbrush", YOLOClasses.Name(79))
	assert.Equal(t, "class_80", YOLOClasses.Name(80))
	assert.Equal(t, "class_-1", YOLOClasses.Name(-1))

	idx, err := YOLOClasses.Index("cup")
	require.NoError(t, err)
	assert.Equal(t, "cup", YOLOClasses.Name(idx))

	_, err = YOLOClasses.Index("unicorn")
	assert.Error(t, err)
}

func TestNewClassSet(t *testing.T) {
	set := NewClassSet([]string{"statue", "plinth"})
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, "plinth", set.Name(1))

	idx, err := set.Index("statue")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}
