// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// FileMedium keeps a flash partition image in a heap buffer and writes the
// whole image back with WriteAt and fsync on Commit. It suits filesystems
// where mmap is unavailable.
type FileMedium struct {
	path string
	size int
	file *os.File
	data []byte
}

// NewFileMedium creates a new FileMedium for an image of size bytes.
func NewFileMedium(path string, size int) *FileMedium {
	return &FileMedium{
		path: path,
		size: size,
	}
}

func (ms *FileMedium) Name() string { return "file:" + ms.path }

// Open reads the image file, creating and formatting it if necessary.
func (ms *FileMedium) Open() error {
	if ms.size < MinImageSize {
		return fmt.Errorf("file image size %d below minimum %d", ms.size, MinImageSize)
	}

	// Open file, creating if necessary
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
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
			return fmt.Errorf("failed to resize file: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) != ms.size {
		f.Close()
		return fmt.Errorf("short read: got %d bytes, want %d", len(data), ms.size)
	}
	ms.file = f
	ms.data = data

	if img := image(data); !img.formatted() {
		slog.Info("storage: formatting flash image", "path", ms.path, "size", ms.size)
		img.format()
		if err := ms.sync(); err != nil {
			ms.Close()
			return err
		}
	}
	return nil
}

func (ms *FileMedium) Read(typ uint32, dst []byte) error {
	if ms.data == nil {
		return ErrClosed
	}
	return image(ms.data).read(typ, dst)
}

func (ms *FileMedium) Write(typ uint32, data []byte) error {
	if ms.data == nil {
		return ErrClosed
	}
	return image(ms.data).write(typ, data)
}

// Commit writes the image to disk.
func (ms *FileMedium) Commit() error {
	if ms.data == nil {
		return ErrClosed
	}
	return ms.sync()
}

func (ms *FileMedium) sync() error {
	if _, err := ms.file.WriteAt(ms.data, 0); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := ms.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

func (ms *FileMedium) Erase() error {
	if ms.data == nil {
		return ErrClosed
	}
	image(ms.data).format()
	return ms.sync()
}

func (ms *FileMedium) Records() ([]Record, error) {
	if ms.data == nil {
		return nil, ErrClosed
	}
	return image(ms.data).records(), nil
}

// Close the file.
func (ms *FileMedium) Close() error {
	ms.data = nil
	if ms.file == nil {
		return nil
	}
	err := ms.file.Close()
	ms.file = nil
	return err
}

var _ Medium = (*FileMedium)(nil)
