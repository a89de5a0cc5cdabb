package device

import (
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// StreamDevice adapts any io.ReadWriteSeeker to the SectorDevice interface.
// Whether writes past the current end extend the storage depends entirely on
// the wrapped stream: files grow, fixed-size buffers return an error.
type StreamDevice struct {
	stream io.ReadWriteSeeker
}

// NewStreamDevice wraps a seekable stream.
func NewStreamDevice(stream io.ReadWriteSeeker) *StreamDevice {
	return &StreamDevice{stream: stream}
}

// NewBufferDevice wraps a byte slice as a fixed-size in-memory device. It is
// mostly useful in tests and for probing static images without touching disk.
func NewBufferDevice(storage []byte) *StreamDevice {
	return NewStreamDevice(bytesextra.NewReadWriteSeeker(storage))
}

func (device *StreamDevice) ReadSectors(sectorOffset int64, count int, buf []byte) error {
	if err := checkTransfer(sectorOffset, count, buf); err != nil {
		return err
	}

	_, err := device.stream.Seek(sectorOffset*SectorSize, io.SeekStart)
	if err != nil {
		return err
	}
	_, err = io.ReadFull(device.stream, buf[:count*SectorSize])
	return err
}

func (device *StreamDevice) WriteSectors(sectorOffset int64, count int, buf []byte) error {
	if err := checkTransfer(sectorOffset, count, buf); err != nil {
		return err
	}

	_, err := device.stream.Seek(sectorOffset*SectorSize, io.SeekStart)
	if err != nil {
		return err
	}
	_, err = device.stream.Write(buf[:count*SectorSize])
	return err
}

func (device *StreamDevice) Flush() error {
	if syncer, ok := device.stream.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

func (device *StreamDevice) Size() (int64, error) {
	current, err := device.stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := device.stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	_, err = device.stream.Seek(current, io.SeekStart)
	return end, err
}

func (device *StreamDevice) Close() error {
	if closer, ok := device.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
