package framedata

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache owns a scratch directory for parked frames. Parking spills a
// frame's planes to disk and releases the slices, which is what bounds
// memory when reducing hundreds of frames; it is not a performance
// cache. Cleanup removes every managed file and then the directory,
// if nothing else has been dropped in it.
type Cache struct {
	mu    sync.Mutex
	dir   string
	files map[string]bool
}

// NewCache creates a cache rooted at dir; with dir empty a fresh
// random-suffixed directory is made under the system temp dir.
func NewCache(dir string) (*Cache, error) {
	var err error
	if dir == "" {
		dir, err = os.MkdirTemp("", "ccdred-cache-")
		if err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	} else if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Cache{dir: dir, files: map[string]bool{}}, nil
}

func (c *Cache) Dir() string { return c.dir }

// AddFile registers a basename and returns its full path in the cache.
func (c *Cache) AddFile(basename string) (string, error) {
	if filepath.Base(basename) != basename {
		return "", fmt.Errorf("cache file %q must be a bare name, not a path", basename)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[basename] = true
	return filepath.Join(c.dir, basename), nil
}

// RemoveFile deletes a managed file.
func (c *Cache) RemoveFile(basename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.files[basename] {
		return fmt.Errorf("file %q is not managed by this cache", basename)
	}
	delete(c.files, basename)
	return os.Remove(filepath.Join(c.dir, basename))
}

// Cleanup removes all managed files, then the directory if empty.
func (c *Cache) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.files {
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
		delete(c.files, name)
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return os.Remove(c.dir)
	}
	return nil
}

type parkedFrame struct {
	cache    *Cache
	basename string
}

const parkMagic = uint32(0xCCD0F17)

// Park spills the pixel, mask and uncertainty planes to the cache and
// drops them from memory. Shape, unit and header stay resident.
func (f *FrameData) Park(c *Cache, basename string) error {
	if f.parked != nil {
		return fmt.Errorf("frame already parked as %q", f.parked.basename)
	}
	path, err := c.AddFile(basename)
	if err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("park %s: %w", basename, err)
	}
	w := bufio.NewWriter(out)

	flags := uint32(0)
	if f.Mask != nil {
		flags |= 1
	}
	if f.Uncert != nil {
		flags |= 2
	}
	hdr := []uint32{parkMagic, uint32(f.Width), uint32(f.Height), flags}
	for _, v := range hdr {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			out.Close()
			return fmt.Errorf("park %s: %w", basename, err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, f.Pixels); err != nil {
		out.Close()
		return fmt.Errorf("park %s: %w", basename, err)
	}
	if f.Mask != nil {
		raw := make([]uint8, len(f.Mask))
		for i, m := range f.Mask {
			if m {
				raw[i] = 1
			}
		}
		if err := binary.Write(w, binary.LittleEndian, raw); err != nil {
			out.Close()
			return fmt.Errorf("park %s: %w", basename, err)
		}
	}
	if f.Uncert != nil {
		if err := binary.Write(w, binary.LittleEndian, f.Uncert); err != nil {
			out.Close()
			return fmt.Errorf("park %s: %w", basename, err)
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("park %s: %w", basename, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("park %s: %w", basename, err)
	}

	f.Pixels, f.Mask, f.Uncert = nil, nil, nil
	f.parked = &parkedFrame{cache: c, basename: basename}
	return nil
}

// Parked reports whether the frame's planes live on disk.
func (f *FrameData) Parked() bool { return f.parked != nil }

// Unpark restores the planes from the cache and removes the spill file.
func (f *FrameData) Unpark() error {
	if f.parked == nil {
		return fmt.Errorf("frame is not parked")
	}
	p := f.parked
	path := filepath.Join(p.cache.Dir(), p.basename)

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unpark %s: %w", p.basename, err)
	}
	defer in.Close()
	r := bufio.NewReader(in)

	var magic, width, height, flags uint32
	for _, ptr := range []*uint32{&magic, &width, &height, &flags} {
		if err := binary.Read(r, binary.LittleEndian, ptr); err != nil {
			return fmt.Errorf("unpark %s: %w", p.basename, err)
		}
	}
	if magic != parkMagic {
		return fmt.Errorf("unpark %s: bad magic %08x", p.basename, magic)
	}
	if int(width) != f.Width || int(height) != f.Height {
		return fmt.Errorf("unpark %s: file is %dx%d, frame is %dx%d: %w",
			p.basename, width, height, f.Width, f.Height, ErrShapeMismatch)
	}

	n := int(width) * int(height)
	pixels := make([]float64, n)
	if err := binary.Read(r, binary.LittleEndian, pixels); err != nil {
		return fmt.Errorf("unpark %s: %w", p.basename, err)
	}
	var mask []bool
	if flags&1 != 0 {
		raw := make([]uint8, n)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return fmt.Errorf("unpark %s: %w", p.basename, err)
		}
		mask = make([]bool, n)
		for i, v := range raw {
			mask[i] = v != 0
		}
	}
	var uncert []float64
	if flags&2 != 0 {
		uncert = make([]float64, n)
		if err := binary.Read(r, binary.LittleEndian, uncert); err != nil {
			return fmt.Errorf("unpark %s: %w", p.basename, err)
		}
	}

	f.Pixels, f.Mask, f.Uncert = pixels, mask, uncert
	f.parked = nil
	return p.cache.RemoveFile(p.basename)
}
