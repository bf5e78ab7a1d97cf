package device

import (
	"bytes"
	"errors"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// ErrCameraClosed is returned when a stopped camera is asked for a frame.
var ErrCameraClosed = errors.New("device: camera closed")

const (
	frameWidth  = 64
	frameHeight = 48
)

// Camera is a simulated PTZ camera producing PNG frames. The picture is a
// deterministic function of the camera name and the requested position, so
// identical requests yield identical bytes.
type Camera struct {
	mu     sync.Mutex
	name   string
	seed   uint32
	closed bool
}

// NewCamera returns a camera labelled name.
func NewCamera(name string) *Camera {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return &Camera{name: name, seed: h.Sum32()}
}

// Name returns the camera label.
func (c *Camera) Name() string {
	return c.name
}

// ContentType returns the media type of rendered frames.
func (c *Camera) ContentType() string {
	return "image/png"
}

// Frame renders the view at the given pan, tilt and zoom.
func (c *Camera) Frame(pan, tilt, zoom int) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrCameraClosed
	}

	if zoom < 1 {
		zoom = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	offsetX := pan * 8
	offsetY := tilt * 6
	for y := 0; y < frameHeight; y++ {
		for x := 0; x < frameWidth; x++ {
			// Zooming in magnifies the scene around the frame centre.
			sx := (x-frameWidth/2)/zoom + frameWidth/2 + offsetX
			sy := (y-frameHeight/2)/zoom + frameHeight/2 + offsetY
			img.Set(x, y, c.scene(sx, sy))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// scene returns the colour of the infinite synthetic scene at (x, y).
func (c *Camera) scene(x, y int) color.RGBA {
	tile := uint32((x>>3)&0xff) ^ uint32((y>>3)&0xff)<<8 ^ c.seed
	return color.RGBA{
		R: uint8(tile),
		G: uint8(tile >> 8),
		B: uint8(tile>>16) ^ uint8(x+y),
		A: 0xff,
	}
}

// Close stops the camera.
func (c *Camera) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
