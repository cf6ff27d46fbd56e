package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// EntryHeaderSize is the fixed per-entry header size: 2-byte filename
// length, 4-byte data length, 2 reserved bytes.
const EntryHeaderSize = 8

const (
	maxFilenameLen = 1<<16 - 1
	maxDataLen     = 1<<32 - 1
)

// ErrOutOfRange is returned when a read goes past declared bounds
var ErrOutOfRange = errors.New("read out of range")

// Entry is one named blob inside a package file
type Entry struct {
	Filename string
	Data     []byte
}

// NewEntry creates an entry after validating the size limits
func NewEntry(filename string, data []byte) (*Entry, error) {
	if len(filename) > maxFilenameLen {
		return nil, fmt.Errorf("entry filename too long: %d bytes", len(filename))
	}
	if uint64(len(data)) > maxDataLen {
		return nil, fmt.Errorf("entry data too long: %d bytes", len(data))
	}
	return &Entry{Filename: filename, Data: data}, nil
}

// Size returns the serialized size of the entry
func (e *Entry) Size() uint64 {
	return EntryHeaderSize + uint64(len(e.Filename)) + uint64(len(e.Data))
}

// WriteTo serializes the entry: header, filename bytes, data bytes
func (e *Entry) WriteTo(w io.Writer) (int64, error) {
	if len(e.Filename) > maxFilenameLen {
		return 0, fmt.Errorf("entry filename too long: %d bytes", len(e.Filename))
	}
	if uint64(len(e.Data)) > maxDataLen {
		return 0, fmt.Errorf("entry data too long: %d bytes", len(e.Data))
	}

	var hdr [EntryHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:], uint16(len(e.Filename)))
	binary.LittleEndian.PutUint32(hdr[2:], uint32(len(e.Data)))
	// hdr[6:8] reserved

	var written int64
	n, err := w.Write(hdr[:])
	written += int64(n)
	if err != nil {
		return written, err
	}
	n, err = io.WriteString(w, e.Filename)
	written += int64(n)
	if err != nil {
		return written, err
	}
	n, err = w.Write(e.Data)
	written += int64(n)
	return written, err
}

// ReadEntryFrom reads exactly one entry. A clean end of input before the
// header yields io.EOF; a truncated entry yields io.ErrUnexpectedEOF.
func ReadEntryFrom(r io.Reader) (*Entry, error) {
	var hdr [EntryHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading entry header: %w", err)
	}

	filenameLen := binary.LittleEndian.Uint16(hdr[0:])
	dataLen := binary.LittleEndian.Uint32(hdr[2:])

	filename := make([]byte, filenameLen)
	if _, err := io.ReadFull(r, filename); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading entry filename: %w", err)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading entry data: %w", err)
	}

	return &Entry{Filename: string(filename), Data: data}, nil
}
