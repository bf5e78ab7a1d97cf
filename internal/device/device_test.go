package device

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensor(t *testing.T) {
	t.Run("reads only when armed and triggered", func(t *testing.T) {
		s := NewWinDoorSensor()
		assert.Equal(t, "WINDOOR", s.Kind())

		s.Trigger()
		assert.True(t, s.Triggered())
		assert.False(t, s.Read())

		s.Arm()
		assert.True(t, s.Armed())
		assert.True(t, s.Read())

		s.Release()
		assert.False(t, s.Read())

		s.Trigger()
		s.Disarm()
		assert.False(t, s.Read())
		assert.True(t, s.Triggered())
	})

	t.Run("closed sensors stay inert", func(t *testing.T) {
		s := NewMotionSensor()
		s.Arm()
		s.Trigger()
		s.Close()

		s.Arm()
		s.Trigger()
		assert.False(t, s.Armed())
		assert.False(t, s.Triggered())
		assert.False(t, s.Read())
	})
}

func TestCameraFrame(t *testing.T) {
	cam := NewCamera("Porch")

	first, err := cam.Frame(0, 0, 2)
	require.NoError(t, err)
	again, err := cam.Frame(0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, first, again, "frames must be deterministic")

	panned, err := cam.Frame(3, 0, 2)
	require.NoError(t, err)
	assert.NotEqual(t, first, panned)

	img, err := png.Decode(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, frameWidth, img.Bounds().Dx())
	assert.Equal(t, frameHeight, img.Bounds().Dy())

	other, err := NewCamera("Yard").Frame(0, 0, 2)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	cam.Close()
	_, err = cam.Frame(0, 0, 2)
	assert.ErrorIs(t, err, ErrCameraClosed)
}
