// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MmapMedium maps a flash partition image into memory.
// Writes land in the mapping directly and reach the file on Commit.
type MmapMedium struct {
	path string
	size int
	file *os.File
	data mmap.MMap
}

// NewMmapMedium creates a new MmapMedium for an image of size bytes.
func NewMmapMedium(path string, size int) *MmapMedium {
	return &MmapMedium{
		path: path,
		size: size,
	}
}

func (ms *MmapMedium) Name() string { return "mmap:" + ms.path }

// Open maps the image file, creating and formatting it if necessary.
func (ms *MmapMedium) Open() error {
	if ms.size < MinImageSize {
		return fmt.Errorf("mmap image size %d below minimum %d", ms.size, MinImageSize)
	}

	// Open file, creating if necessary
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open mmap file: %w", err)
	}

	// Ensure file size
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	if fi.Size() != int64(ms.size) {
		if err := f.Truncate(int64(ms.size)); err != nil {
			f.Close()
			return fmt.Errorf("failed to resize mmap file: %w", err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap failed: %w", err)
	}

	if img := image(data); !img.formatted() {
		slog.Info("storage: formatting flash image", "path", ms.path, "size", ms.size)
		img.format()
		if err := data.Flush(); err != nil {
			data.Unmap()
			f.Close()
			return fmt.Errorf("failed to flush formatted image: %w", err)
		}
	}

	ms.file = f
	ms.data = data
	return nil
}

func (ms *MmapMedium) Read(typ uint32, dst []byte) error {
	if ms.data == nil {
		return ErrClosed
	}
	return image(ms.data).read(typ, dst)
}

func (ms *MmapMedium) Write(typ uint32, data []byte) error {
	if ms.data == nil {
		return ErrClosed
	}
	return image(ms.data).write(typ, data)
}

// Commit flushes the mapping to disk.
func (ms *MmapMedium) Commit() error {
	if ms.data == nil {
		return ErrClosed
	}
	if err := ms.data.Flush(); err != nil {
		return fmt.Errorf("failed to flush mmap: %w", err)
	}
	return nil
}

func (ms *MmapMedium) Erase() error {
	if ms.data == nil {
		return ErrClosed
	}
	image(ms.data).format()
	return ms.Commit()
}

func (ms *MmapMedium) Records() ([]Record, error) {
	if ms.data == nil {
		return nil, ErrClosed
	}
	return image(ms.data).records(), nil
}

// Close unmaps and closes the file.
func (ms *MmapMedium) Close() error {
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}

var _ Medium = (*MmapMedium)(nil)
